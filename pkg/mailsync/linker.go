package mailsync

import (
	"context"
	"fmt"

	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/types"
)

// AutoLinker resolves email participants to CRM records
type AutoLinker struct {
	crm repository.CRMRepository
}

func NewAutoLinker(crm repository.CRMRepository) *AutoLinker {
	return &AutoLinker{crm: crm}
}

// Participants returns from, to and cc addresses in that order, deduplicated
// case-insensitively.
func Participants(email *types.Email) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(addr string) {
		addr = normalizeAddress(addr)
		if addr == "" {
			return
		}
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}

	add(email.FromAddress)
	for _, a := range email.ToAddresses {
		add(a)
	}
	for _, a := range email.CcAddresses {
		add(a)
	}
	return out
}

// AutoLink links the first participant that is a known contact, the contact's
// company, and a deal when exactly one open deal can be attributed. Ambiguous
// deals are left unset. An empty result means nothing matched.
func (l *AutoLinker) AutoLink(ctx context.Context, businessId uint, email *types.Email) (types.EmailLinks, error) {
	var links types.EmailLinks

	var contact *types.Contact
	for _, addr := range Participants(email) {
		c, err := l.crm.FindContactByAddress(ctx, businessId, addr)
		if err != nil {
			return links, fmt.Errorf("find contact: %w", err)
		}
		if c != nil {
			contact = c
			break
		}
	}
	if contact == nil {
		return links, nil
	}

	contactId := contact.Id
	links.ContactId = &contactId
	if contact.CompanyId != nil {
		companyId := *contact.CompanyId
		links.CompanyId = &companyId
	}

	deals, err := l.crm.FindOpenDealsForContact(ctx, businessId, contact.Id)
	if err != nil {
		return links, fmt.Errorf("find contact deals: %w", err)
	}
	if len(deals) == 0 && links.CompanyId != nil {
		deals, err = l.crm.FindOpenDealsForCompany(ctx, businessId, *links.CompanyId)
		if err != nil {
			return links, fmt.Errorf("find company deals: %w", err)
		}
	}
	if len(deals) == 1 {
		dealId := deals[0].Id
		links.DealId = &dealId
	}

	return links, nil
}

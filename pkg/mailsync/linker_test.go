package mailsync

import (
	"context"
	"errors"
	"testing"

	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParticipantsOrderAndDedupe(t *testing.T) {
	email := &types.Email{
		FromAddress: "Bob@Client.com",
		ToAddresses: []string{"sales@acme.com", "BOB@client.com", ""},
		CcAddresses: []string{"carol@client.com", "Sales@Acme.com"},
	}
	assert.Equal(t, []string{"bob@client.com", "sales@acme.com", "carol@client.com"}, Participants(email))
}

func TestAutoLinkPrefersSender(t *testing.T) {
	repo := repository.NewMemoryBackend()
	carol := repo.AddContact(1, "carol@client.com", nil)
	bob := repo.AddContact(1, "bob@client.com", nil)
	linker := NewAutoLinker(repo)

	links, err := linker.AutoLink(context.Background(), 1, &types.Email{
		FromAddress: "bob@client.com",
		CcAddresses: []string{"carol@client.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, bob.Id, *links.ContactId)

	links, err = linker.AutoLink(context.Background(), 1, &types.Email{
		FromAddress: "sales@acme.com",
		ToAddresses: []string{"nobody@client.com"},
		CcAddresses: []string{"carol@client.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, carol.Id, *links.ContactId)
}

func TestAutoLinkScopesToBusiness(t *testing.T) {
	repo := repository.NewMemoryBackend()
	repo.AddContact(2, "bob@client.com", nil)

	links, err := NewAutoLinker(repo).AutoLink(context.Background(), 1, &types.Email{FromAddress: "bob@client.com"})
	require.NoError(t, err)
	assert.True(t, links.IsEmpty())
}

func TestAutoLinkDeals(t *testing.T) {
	companyId := uint(900)

	tests := []struct {
		name     string
		seed     func(repo *repository.MemoryBackend, contactId uint) *types.Deal
		wantDeal bool
	}{
		{
			name: "single open contact deal",
			seed: func(repo *repository.MemoryBackend, contactId uint) *types.Deal {
				repo.AddDeal(1, &contactId, nil, false)
				return repo.AddDeal(1, &contactId, nil, true)
			},
			wantDeal: true,
		},
		{
			name: "two open contact deals are ambiguous",
			seed: func(repo *repository.MemoryBackend, contactId uint) *types.Deal {
				repo.AddDeal(1, &contactId, nil, true)
				repo.AddDeal(1, &contactId, nil, true)
				return nil
			},
		},
		{
			name: "falls back to the company's single open deal",
			seed: func(repo *repository.MemoryBackend, contactId uint) *types.Deal {
				return repo.AddDeal(1, nil, &companyId, true)
			},
			wantDeal: true,
		},
		{
			name: "company with two open deals is ambiguous",
			seed: func(repo *repository.MemoryBackend, contactId uint) *types.Deal {
				repo.AddDeal(1, nil, &companyId, true)
				repo.AddDeal(1, nil, &companyId, true)
				return nil
			},
		},
		{
			name: "no deals",
			seed: func(repo *repository.MemoryBackend, contactId uint) *types.Deal { return nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := repository.NewMemoryBackend()
			contact := repo.AddContact(1, "alice@client.com", &companyId)
			deal := tt.seed(repo, contact.Id)

			links, err := NewAutoLinker(repo).AutoLink(context.Background(), 1, &types.Email{FromAddress: "alice@client.com"})
			require.NoError(t, err)
			assert.Equal(t, contact.Id, *links.ContactId)
			assert.Equal(t, companyId, *links.CompanyId)
			if tt.wantDeal {
				require.NotNil(t, links.DealId)
				assert.Equal(t, deal.Id, *links.DealId)
			} else {
				assert.Nil(t, links.DealId)
			}
		})
	}
}

func TestAutoLinkNoMatch(t *testing.T) {
	links, err := NewAutoLinker(repository.NewMemoryBackend()).AutoLink(context.Background(), 1, &types.Email{
		FromAddress: "a@nowhere.com",
		ToAddresses: []string{"b@nowhere.com"},
	})
	require.NoError(t, err)
	assert.True(t, links.IsEmpty())
}

type failingCRM struct {
	repository.CRMRepository
}

func (failingCRM) FindContactByAddress(ctx context.Context, businessId uint, address string) (*types.Contact, error) {
	return nil, errors.New("db down")
}

func TestAutoLinkPropagatesLookupErrors(t *testing.T) {
	_, err := NewAutoLinker(failingCRM{}).AutoLink(context.Background(), 1, &types.Email{FromAddress: "a@x.com"})
	assert.ErrorContains(t, err, "db down")
}

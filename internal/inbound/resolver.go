package inbound

import (
	"context"

	"github.io/infrasutra/mailbridge/internal/store"
)

// UserLookup finds users by exact registered email.
type UserLookup interface {
	UsersByEmails(ctx context.Context, emails []string) ([]store.User, error)
}

// DeliveryLookup reports which users already hold a provider message.
type DeliveryLookup interface {
	OwnersWithMessage(ctx context.Context, providerMessageID string, userIDs []int64) (map[int64]struct{}, error)
}

// CandidateAddresses returns the addresses to route on: every non-empty
// structured recipient, or else the raw To header as a single candidate.
// The raw header is deliberately not split on commas.
func CandidateAddresses(p Payload) []string {
	candidates := make([]string, 0, len(p.ToFull))
	for _, recipient := range p.ToFull {
		if recipient.Email != "" {
			candidates = append(candidates, recipient.Email)
		}
	}
	if len(candidates) == 0 && p.To != "" {
		candidates = append(candidates, p.To)
	}
	return candidates
}

// ResolveRecipients returns the local users addressed by the payload.
// Matching is exact and case-sensitive. An empty result is not an error.
func ResolveRecipients(ctx context.Context, users UserLookup, p Payload) ([]store.User, error) {
	candidates := CandidateAddresses(p)
	if len(candidates) == 0 {
		return nil, nil
	}
	return users.UsersByEmails(ctx, candidates)
}

// Deduplicate drops users that already hold a copy of messageID. An empty
// id disables deduplication.
func Deduplicate(ctx context.Context, deliveries DeliveryLookup, messageID string, users []store.User) ([]store.User, error) {
	if messageID == "" || len(users) == 0 {
		return users, nil
	}
	ids := make([]int64, 0, len(users))
	for _, user := range users {
		ids = append(ids, user.ID)
	}
	existing, err := deliveries.OwnersWithMessage(ctx, messageID, ids)
	if err != nil {
		return nil, err
	}
	remaining := make([]store.User, 0, len(users))
	for _, user := range users {
		if _, ok := existing[user.ID]; !ok {
			remaining = append(remaining, user)
		}
	}
	return remaining, nil
}

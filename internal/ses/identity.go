package ses

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// IdentityStatus is the provider's view of a domain identity.
type IdentityStatus struct {
	Verified   bool
	DKIMStatus string
}

// CreateIdentity registers a domain identity in the region and returns the
// DKIM tokens to publish in DNS. Creating an identity that already exists
// returns the existing tokens.
func (s *Sender) CreateIdentity(ctx context.Context, region, name string) ([]string, error) {
	client, err := s.clientFor(ctx, region)
	if err != nil {
		return nil, err
	}

	out, err := client.CreateEmailIdentity(ctx, &sesv2.CreateEmailIdentityInput{
		EmailIdentity: aws.String(name),
	})
	if err != nil {
		var exists *types.AlreadyExistsException
		if errors.As(err, &exists) {
			return s.identityTokens(ctx, region, name)
		}
		return nil, fmt.Errorf("create identity %s: %w", name, err)
	}
	if out.DkimAttributes == nil {
		return nil, nil
	}
	return out.DkimAttributes.Tokens, nil
}

func (s *Sender) identityTokens(ctx context.Context, region, name string) ([]string, error) {
	client, err := s.clientFor(ctx, region)
	if err != nil {
		return nil, err
	}
	out, err := client.GetEmailIdentity(ctx, &sesv2.GetEmailIdentityInput{
		EmailIdentity: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("get identity %s: %w", name, err)
	}
	if out.DkimAttributes == nil {
		return nil, nil
	}
	return out.DkimAttributes.Tokens, nil
}

// GetIdentityStatus reads the verification state of a domain identity.
func (s *Sender) GetIdentityStatus(ctx context.Context, region, name string) (*IdentityStatus, error) {
	client, err := s.clientFor(ctx, region)
	if err != nil {
		return nil, err
	}

	out, err := client.GetEmailIdentity(ctx, &sesv2.GetEmailIdentityInput{
		EmailIdentity: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("get identity %s: %w", name, err)
	}

	st := &IdentityStatus{Verified: out.VerifiedForSendingStatus}
	if out.DkimAttributes != nil {
		st.DKIMStatus = string(out.DkimAttributes.Status)
	}
	return st, nil
}

// DeleteIdentity removes the domain identity from the region. A missing
// identity is not an error.
func (s *Sender) DeleteIdentity(ctx context.Context, region, name string) error {
	client, err := s.clientFor(ctx, region)
	if err != nil {
		return err
	}

	_, err = client.DeleteEmailIdentity(ctx, &sesv2.DeleteEmailIdentityInput{
		EmailIdentity: aws.String(name),
	})
	if err != nil {
		var notFound *types.NotFoundException
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("delete identity %s: %w", name, err)
	}
	return nil
}

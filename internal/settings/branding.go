package settings

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"github.com/compliscope/compliscope/internal/kv"
	"github.com/compliscope/compliscope/internal/models"
)

const brandingKey = "organization_branding"

// DefaultBranding applies until an organisation saves its own.
var DefaultBranding = models.Branding{OrganizationName: "Compliscope", PrimaryColor: "#4285F4"}

var ErrInvalidBranding = errors.New("invalid branding")

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

type BrandingStore struct {
	doc *kv.JSON[models.Branding]
}

func NewBrandingStore(repo kv.Repository) *BrandingStore {
	return &BrandingStore{doc: kv.NewJSON[models.Branding](repo, brandingKey)}
}

func (s *BrandingStore) Get(ctx context.Context) (models.Branding, error) {
	b, ok, err := s.doc.Load(ctx)
	if err != nil {
		return models.Branding{}, err
	}
	if !ok {
		return DefaultBranding, nil
	}
	return b, nil
}

func (s *BrandingStore) Save(ctx context.Context, b models.Branding) error {
	if b.OrganizationName == "" {
		return fmt.Errorf("%w: organization name is required", ErrInvalidBranding)
	}
	if b.PrimaryColor != "" && !hexColor.MatchString(b.PrimaryColor) {
		return fmt.Errorf("%w: primary color %q is not a #RRGGBB value", ErrInvalidBranding, b.PrimaryColor)
	}
	if b.LogoURL != "" {
		u, err := url.Parse(b.LogoURL)
		if err != nil || u.Scheme != "https" {
			return fmt.Errorf("%w: logo url must be an https url", ErrInvalidBranding)
		}
	}
	return s.doc.Save(ctx, b)
}

func (s *BrandingStore) Reset(ctx context.Context) error {
	return s.doc.Clear(ctx)
}

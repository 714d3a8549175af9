package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Item is one scannable object in a connected workspace.
type Item struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Owner string `json:"owner,omitempty"`
}

// ItemSource lists up to limit items from a workspace.
type ItemSource interface {
	ListItems(ctx context.Context, limit int) ([]Item, error)
}

var itemKinds = map[Provider]string{
	ProviderGoogle:    "document",
	ProviderMicrosoft: "file",
	ProviderZoom:      "recording",
	ProviderSlack:     "message",
	ProviderJira:      "issue",
	ProviderWorkday:   "worker record",
}

// MockSource produces synthetic workspace content. FailureRate makes a share of
// listings fail with ErrSimulatedFailure.
type MockSource struct {
	provider    Provider
	minItems    int
	maxItems    int
	FailureRate float64

	rng Rand
}

func NewMockSource(provider Provider, rng Rand, minItems, maxItems int) *MockSource {
	if maxItems < minItems {
		maxItems = minItems
	}
	return &MockSource{provider: provider, rng: rng, minItems: minItems, maxItems: maxItems}
}

func (m *MockSource) ListItems(ctx context.Context, limit int) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.FailureRate > 0 && m.rng.Float64() < m.FailureRate {
		return nil, ErrSimulatedFailure
	}

	n := m.minItems
	if span := m.maxItems - m.minItems; span > 0 {
		n += m.rng.Intn(span + 1)
	}
	if limit > 0 && n > limit {
		n = limit
	}

	kind := itemKinds[m.provider]
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{
			ID:   fmt.Sprintf("%s-%04d", m.provider, i+1),
			Name: fmt.Sprintf("Shared %s %d", kind, i+1),
			Kind: kind,
		}
	}
	return items, nil
}

var errStopPaging = errors.New("item limit reached")

// DriveSource lists Google Drive files through the Drive v3 API.
type DriveSource struct {
	svc *drive.Service
}

func NewDriveSource(ctx context.Context, credentialsFile string) (*DriveSource, error) {
	svc, err := drive.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(drive.DriveMetadataReadonlyScope),
	)
	if err != nil {
		return nil, fmt.Errorf("creating drive client: %w", err)
	}
	return &DriveSource{svc: svc}, nil
}

func (s *DriveSource) ListItems(ctx context.Context, limit int) ([]Item, error) {
	var items []Item
	call := s.svc.Files.List().
		PageSize(100).
		Fields("nextPageToken", "files(id, name, mimeType, owners(emailAddress))")

	err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			item := Item{ID: f.Id, Name: f.Name, Kind: f.MimeType}
			if len(f.Owners) > 0 {
				item.Owner = f.Owners[0].EmailAddress
			}
			items = append(items, item)
			if limit > 0 && len(items) >= limit {
				return errStopPaging
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopPaging) {
		return nil, fmt.Errorf("listing drive files: %w", err)
	}
	return items, nil
}

const graphScope = "https://graph.microsoft.com/.default"

// GraphSource lists a user's OneDrive root through Microsoft Graph using an
// app registration's client secret.
type GraphSource struct {
	credential *azidentity.ClientSecretCredential
	account    string
	client     *http.Client
	baseURL    string
}

func NewGraphSource(creds Credentials) (*GraphSource, error) {
	credential, err := azidentity.NewClientSecretCredential(creds.TenantID, creds.ClientID, creds.ClientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("creating credential: %w", err)
	}
	return &GraphSource{
		credential: credential,
		account:    creds.Account,
		client:     http.DefaultClient,
		baseURL:    "https://graph.microsoft.com/v1.0",
	}, nil
}

type graphItems struct {
	Value []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		File *struct {
			MimeType string `json:"mimeType"`
		} `json:"file"`
		CreatedBy struct {
			User struct {
				Email string `json:"email"`
			} `json:"user"`
		} `json:"createdBy"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

func (s *GraphSource) ListItems(ctx context.Context, limit int) ([]Item, error) {
	token, err := s.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{graphScope}})
	if err != nil {
		return nil, fmt.Errorf("acquiring graph token: %w", err)
	}

	next := fmt.Sprintf("%s/users/%s/drive/root/children?$top=100", s.baseURL, url.PathEscape(s.account))
	var items []Item
	for next != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token.Token)

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("listing drive items: %w", err)
		}
		var page graphItems
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("graph returned status %d", resp.StatusCode)
		}
		if err != nil {
			return nil, fmt.Errorf("decoding drive items: %w", err)
		}

		for _, v := range page.Value {
			kind := "folder"
			if v.File != nil {
				kind = v.File.MimeType
			}
			items = append(items, Item{ID: v.ID, Name: v.Name, Kind: kind, Owner: v.CreatedBy.User.Email})
			if limit > 0 && len(items) >= limit {
				return items, nil
			}
		}
		next = page.NextLink
	}
	return items, nil
}

// DefaultSources goes live for Google when a service account file is given and
// for Microsoft when an app registration is given. Everything else is mocked.
func DefaultSources(rng Rand, minItems, maxItems int) SourceFactory {
	return func(ctx context.Context, provider Provider, creds Credentials) (ItemSource, bool, error) {
		switch {
		case provider == ProviderGoogle && creds.CredentialsFile != "":
			src, err := NewDriveSource(ctx, creds.CredentialsFile)
			return src, err == nil, err
		case provider == ProviderMicrosoft && (creds.TenantID != "" || creds.ClientID != "" || creds.ClientSecret != ""):
			if creds.TenantID == "" || creds.ClientID == "" || creds.ClientSecret == "" {
				return nil, false, errIncompleteMicrosoft
			}
			src, err := NewGraphSource(creds)
			return src, err == nil, err
		default:
			return NewMockSource(provider, rng, minItems, maxItems), false, nil
		}
	}
}

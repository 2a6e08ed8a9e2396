// Package blob archives stored bundle content in Azure Blob Storage.
package blob

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"

	"github.com/fxf-vault/internal/config"
)

// Archive writes bundle revisions to one container. Blobs are never
// overwritten, matching the append-only revision store.
type Archive struct {
	container  *container.Client
	credential azcore.TokenCredential
	prefix     string
}

// NewArchive creates an Archive from the archive configuration
func NewArchive(cfg config.ArchiveConfig) (*Archive, error) {
	serviceClient, cred, err := newServiceClient(cfg)
	if err != nil {
		return nil, err
	}

	return &Archive{
		container:  serviceClient.NewContainerClient(cfg.Container),
		credential: cred,
		prefix:     strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// newServiceClient authenticates with the configured method
func newServiceClient(cfg config.ArchiveConfig) (*service.Client, azcore.TokenCredential, error) {
	var serviceClient *service.Client
	var cred azcore.TokenCredential
	var err error

	serviceURL := cfg.GetServiceURL()

	switch cfg.GetAuthMethod() {
	case "connection_string":
		serviceClient, err = service.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create client from connection string: %w", err)
		}

	case "sas_token":
		sasURL := serviceURL
		if !strings.HasPrefix(cfg.SASToken, "?") {
			sasURL += "?"
		}
		sasURL += cfg.SASToken
		serviceClient, err = service.NewClientWithNoCredential(sasURL, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create client with SAS token: %w", err)
		}

	case "managed_identity":
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create default azure credential: %w", err)
		}
		serviceClient, err = service.NewClient(serviceURL, cred, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create client with managed identity: %w", err)
		}

	case "service_principal":
		cred, err = azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create service principal credential: %w", err)
		}
		serviceClient, err = service.NewClient(serviceURL, cred, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create client with service principal: %w", err)
		}

	default:
		return nil, nil, fmt.Errorf("no valid authentication method configured")
	}

	return serviceClient, cred, nil
}

// BlobPath returns the blob name of a bundle revision:
// <prefix>/<site>/<bundle>/<version>.fxf
func BlobPath(prefix, site, bundle string, version int) string {
	return path.Join(prefix, site, bundle, strconv.Itoa(version)+".fxf")
}

// Archive uploads the content of a bundle revision unless it is already
// archived.
func (a *Archive) Archive(ctx context.Context, site, bundle string, version int, content string) error {
	name := BlobPath(a.prefix, site, bundle, version)

	exists, err := a.Exists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if _, err := a.container.NewBlockBlobClient(name).UploadBuffer(ctx, []byte(content), nil); err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", name, err)
	}
	return nil
}

// Exists checks if a blob exists
func (a *Archive) Exists(ctx context.Context, name string) (bool, error) {
	_, err := a.container.NewBlobClient(name).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check blob %s: %w", name, err)
	}
	return true, nil
}

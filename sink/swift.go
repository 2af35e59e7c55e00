package sink

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/ncw/swift"
)

// maxSwiftSegments is the most segments a single SLO manifest may list.
const maxSwiftSegments = 1000

// SwiftDestination stores objects in OpenStack Swift as static large
// objects, with the segments kept in a separate container.
type SwiftDestination struct {
	Connection       *swift.Connection
	Container        string
	SegmentContainer string
	// HTTPClient sends the manifest request. Nil uses http.DefaultClient.
	HTTPClient *http.Client
}

// getAuthVersion extracts the OpenStack auth version from the end of an
// authURL.
func getAuthVersion(url string) (int, error) {
	authVersionRegex, err := regexp.Compile(".*/v([0-9])[.0-9]*/?$")
	if err != nil {
		return 0, fmt.Errorf("unable to compile auth version regex")
	}
	matches := authVersionRegex.FindStringSubmatch(url)
	if len(matches) < 2 {
		return 0, fmt.Errorf("unable to extract an auth version number from url %s", url)
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, fmt.Errorf("unable to convert version number %s to an integer", matches[1])
	}
	return version, nil
}

// AuthenticateSwift logs in to object storage and makes sure both containers
// exist. The url MUST end with its auth version: https://example.com/v{1,2,3}
// An empty segmentContainer defaults to container + "_segments".
func AuthenticateSwift(username, apiKey, authURL, domain, tenant, container, segmentContainer string) (*SwiftDestination, error) {
	version, err := getAuthVersion(authURL)
	if err != nil {
		return nil, err
	}
	connection := &swift.Connection{
		UserName:    username,
		ApiKey:      apiKey,
		AuthUrl:     authURL,
		Domain:      domain,
		Tenant:      tenant,
		AuthVersion: version,
	}
	if err := connection.Authenticate(); err != nil {
		return nil, fmt.Errorf("failed to authenticate with object storage: %w", err)
	}
	dest := NewSwiftDestination(connection, container, segmentContainer)
	if err := dest.EnsureContainers(); err != nil {
		return nil, err
	}
	return dest, nil
}

// NewSwiftDestination wraps an authenticated connection.
func NewSwiftDestination(connection *swift.Connection, container, segmentContainer string) *SwiftDestination {
	if segmentContainer == "" {
		segmentContainer = container + "_segments"
	}
	return &SwiftDestination{
		Connection:       connection,
		Container:        container,
		SegmentContainer: segmentContainer,
	}
}

// EnsureContainers creates the object and segment containers. Creating a
// container that exists is not an error in Swift.
func (s *SwiftDestination) EnsureContainers() error {
	for _, container := range []string{s.Container, s.SegmentContainer} {
		if err := s.Connection.ContainerCreate(container, nil); err != nil {
			return fmt.Errorf("failed to create container %s: %w", container, err)
		}
	}
	return nil
}

// MinPartSize is one byte, Swift has no lower limit on segment size.
func (s *SwiftDestination) MinPartSize() uint {
	return 1
}

// Begin reserves a segment prefix for key. Swift has no server side
// multipart session, so nothing is sent until the first part.
func (s *SwiftDestination) Begin(ctx context.Context, key string, meta Metadata) (Upload, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	return &swiftUpload{dest: s, key: key, id: uuid.NewString(), meta: meta}, nil
}

// PutEmpty stores a zero-length object at key.
func (s *SwiftDestination) PutEmpty(ctx context.Context, key string, meta Metadata) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	if err := s.Connection.ObjectPutBytes(s.Container, key, []byte{}, meta.ContentType); err != nil {
		return "", fmt.Errorf("failed to put empty object: %w", err)
	}
	return s.location(key), nil
}

func (s *SwiftDestination) location(key string) string {
	return s.Connection.StorageUrl + "/" + s.Container + "/" + key
}

func (s *SwiftDestination) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

// swiftUpload writes segments under a unique prefix and joins them with an
// SLO manifest.
type swiftUpload struct {
	dest *SwiftDestination
	key  string
	id   string
	meta Metadata
}

// manifestEntry is one segment as the SLO manifest lists it.
type manifestEntry struct {
	Path      string `json:"path"`
	Etag      string `json:"etag"`
	SizeBytes int64  `json:"size_bytes"`
}

func (u *swiftUpload) ID() string {
	return u.id
}

func (u *swiftUpload) prefix() string {
	return u.key + "/" + u.id + "/"
}

func (u *swiftUpload) segmentName(number int) string {
	return fmt.Sprintf("%s%08d", u.prefix(), number)
}

// PutPart stores data as a segment, letting Swift verify its MD5.
func (u *swiftUpload) PutPart(ctx context.Context, number int, data []byte) (Part, error) {
	if number > maxSwiftSegments {
		return Part{}, fmt.Errorf("unable to store part %d, SLO manifests hold at most %d segments", number, maxSwiftSegments)
	}
	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])
	_, err := u.dest.Connection.ObjectPut(u.dest.SegmentContainer, u.segmentName(number), bytes.NewReader(data), true, hash, "", nil)
	if err != nil {
		return Part{}, fmt.Errorf("failed to upload segment %d: %w", number, err)
	}
	return Part{Number: number, ETag: hash, Size: int64(len(data))}, nil
}

// Complete uploads the SLO manifest naming every stored segment in order.
func (u *swiftUpload) Complete(ctx context.Context, parts []Part) (string, error) {
	if len(parts) == 0 {
		return "", ErrNoParts
	}
	entries := make([]manifestEntry, len(parts))
	etags := md5.New()
	for i, part := range parts {
		entries[i] = manifestEntry{
			Path:      "/" + u.dest.SegmentContainer + "/" + u.segmentName(part.Number),
			Etag:      part.ETag,
			SizeBytes: part.Size,
		}
		etags.Write([]byte(part.ETag))
	}
	manifestJSON, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to convert manifest to JSON: %w", err)
	}
	targetURL := u.dest.location(u.key) + "?multipart-manifest=put"
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, targetURL, bytes.NewReader(manifestJSON))
	if err != nil {
		return "", fmt.Errorf("failed to create request for uploading manifest: %w", err)
	}
	request.Header.Add("X-Auth-Token", u.dest.Connection.AuthToken)
	request.Header.Add("Content-Length", strconv.Itoa(len(manifestJSON)))
	if u.meta.ContentType != "" {
		request.Header.Add("Content-Type", u.meta.ContentType)
	}
	response, err := u.dest.httpClient().Do(request)
	if err != nil {
		return "", fmt.Errorf("error sending manifest upload request: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", fmt.Errorf("failed to upload manifest with status %d", response.StatusCode)
	}
	if etag := strings.Trim(response.Header.Get("Etag"), "\""); etag != "" && etag != hex.EncodeToString(etags.Sum(nil)) {
		return "", fmt.Errorf("manifest corrupted on upload")
	}
	return u.dest.location(u.key), nil
}

// Abort deletes every segment stored under this upload's prefix.
func (u *swiftUpload) Abort(ctx context.Context) error {
	names, err := u.dest.Connection.ObjectNamesAll(u.dest.SegmentContainer, &swift.ObjectsOpts{Prefix: u.prefix()})
	if err != nil {
		return fmt.Errorf("failed to list segments of %s: %w", u.id, err)
	}
	for _, name := range names {
		if err := u.dest.Connection.ObjectDelete(u.dest.SegmentContainer, name); err != nil && err != swift.ObjectNotFound {
			return fmt.Errorf("failed to delete segment %s: %w", name, err)
		}
	}
	return nil
}

var _ Destination = &SwiftDestination{}

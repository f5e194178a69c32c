// Package pinata is an evidence store backed by the Pinata pinning service.
//
// Uploads go to the pinning API; reads go through an IPFS HTTP gateway.
package pinata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/escrowsync/cidutil"
	"xdao.co/escrowsync/evidence"
)

const (
	DefaultEndpoint = "https://api.pinata.cloud"
	DefaultGateway  = "https://gateway.pinata.cloud"
	// DefaultMaxBytes bounds gateway reads.
	DefaultMaxBytes = 64 << 20
)

// ErrCredentials is returned when no API key pair is configured.
var ErrCredentials = errors.New("pinata: api key and secret are required")

type Options struct {
	APIKey    string
	APISecret string
	// Endpoint is the pinning API base URL.
	Endpoint string
	// Gateway is the IPFS gateway base URL used for reads.
	Gateway string
	// FileName is the multipart file name sent with uploads.
	FileName string
	MaxBytes int64
	Client   *http.Client
}

type Store struct {
	opts   Options
	client *http.Client
}

var _ evidence.Store = (*Store)(nil)

func New(opts Options) (*Store, error) {
	if opts.APIKey == "" || opts.APISecret == "" {
		return nil, ErrCredentials
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Gateway == "" {
		opts.Gateway = DefaultGateway
	}
	if opts.FileName == "" {
		opts.FileName = "evidence"
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	opts.Endpoint = strings.TrimRight(opts.Endpoint, "/")
	opts.Gateway = strings.TrimRight(opts.Gateway, "/")
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Store{opts: opts, client: client}, nil
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// Put pins data and returns the id Pinata reports. Single-block uploads come
// back as raw CIDv1 and are checked against the local hash.
func (s *Store) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", s.opts.FileName)
	if err != nil {
		return cid.Undef, err
	}
	if _, err := fw.Write(data); err != nil {
		return cid.Undef, err
	}
	if err := mw.WriteField("pinataOptions", `{"cidVersion":1}`); err != nil {
		return cid.Undef, err
	}
	if err := mw.Close(); err != nil {
		return cid.Undef, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.Endpoint+"/pinning/pinFileToIPFS", &body)
	if err != nil {
		return cid.Undef, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("pinata_api_key", s.opts.APIKey)
	req.Header.Set("pinata_secret_api_key", s.opts.APISecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return cid.Undef, fmt.Errorf("pinata: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return cid.Undef, fmt.Errorf("pinata: upload failed: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var pr pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return cid.Undef, fmt.Errorf("pinata: decode response: %w", err)
	}
	id, err := cid.Decode(pr.IpfsHash)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %q", evidence.ErrInvalidCID, pr.IpfsHash)
	}
	if ok, err := cidutil.Matches(id, data); err != nil || !ok {
		return cid.Undef, evidence.ErrCIDMismatch
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, evidence.ErrInvalidCID
	}
	resp, err := s.gateway(ctx, http.MethodGet, id)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, evidence.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("pinata: gateway: %s", resp.Status)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, s.opts.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > s.opts.MaxBytes {
		return nil, fmt.Errorf("pinata: object exceeds %d bytes", s.opts.MaxBytes)
	}
	ok, err := cidutil.Matches(id, b)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, evidence.ErrCIDMismatch
	}
	return b, nil
}

func (s *Store) Has(ctx context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	resp, err := s.gateway(ctx, http.MethodHead, id)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (s *Store) gateway(ctx context.Context, method string, id cid.Cid) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.opts.Gateway+"/ipfs/"+id.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pinata: gateway: %w", err)
	}
	return resp, nil
}

// Command streamput demonstrates component C4 end to end: it streams a
// local file to an S3-compatible endpoint using the aws-chunked SigV4
// encoding implemented in pkg/chunkstream, instead of buffering the whole
// object or relying on a client SDK's own chunked-upload support.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"flag"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"

	"github.com/awschunk/s3stream/pkg/auth"
	"github.com/awschunk/s3stream/pkg/chunkstream"
)

// chunkSignatureFieldLen is the length of a frame's
// "chunk-signature=<64-hex-char signature>" field. frameLen adds the
// hex-size, the ';' and the two CRLFs; only the hex-size width varies by
// frame.
const chunkSignatureFieldLen = len("chunk-signature=") + 64

// Config holds the upload configuration.
type Config struct {
	Endpoint     string
	Bucket       string
	Key          string
	Region       string
	File         string
	AccessKey    string
	SecretKey    string
	WithChecksum bool
	StatusAddr   string
}

// progress is read by the optional status handler and written only by the
// goroutine driving the upload request; benign read/write races here mirror
// pkg/accesslog's own buffer-inspection helpers.
type progress struct {
	total    int64
	uploaded int64
}

// countingReader wraps the file being uploaded and records bytes as they
// are pulled out of it, ahead of chunk framing, so the status endpoint
// reports raw file progress rather than encoded-wire progress.
type countingReader struct {
	r    io.Reader
	prog *progress
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.prog.uploaded += int64(n)
	return n, err
}

func statusHandler(prog *progress) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"uploaded":%d,"total":%d}`, prog.uploaded, prog.total)
	})
}

// frameLen returns the on-wire length of a single chunk frame carrying
// bodyLen bytes: hex-size;chunk-signature=<sig>\r\n<body>\r\n.
func frameLen(bodyLen int64) int64 {
	hexLen := int64(len(strconv.FormatInt(bodyLen, 16)))
	return hexLen + 1 + int64(chunkSignatureFieldLen) + 2 + bodyLen + 2
}

// trailerBlockLen returns the on-wire length of the trailing-headers frame
// for the given trailers, or 0 if there are none: each "name:value\r\n"
// line, followed by "x-amz-trailer-signature:<sig>\r\n\r\n".
func trailerBlockLen(trailers []chunkstream.TrailerHeader) int64 {
	if len(trailers) == 0 {
		return 0
	}
	var n int64
	for _, h := range trailers {
		n += int64(len(h.Name)) + 1 + int64(len(strings.Join(h.Values, ","))) + 2
	}
	n += int64(len("x-amz-trailer-signature:")) + 64 + 4
	return n
}

// encodedContentLength returns the exact number of bytes an Encoder
// produces for a dataLen-byte stream, per the chunk-frame grammar: one
// full-size frame per ChunkSize-sized span, one partial frame for the
// remainder (if any), a zero-length terminal frame, and the trailer block
// if trailers are present.
func encodedContentLength(dataLen int64, trailers []chunkstream.TrailerHeader) int64 {
	full := dataLen / chunkstream.ChunkSize
	rem := dataLen % chunkstream.ChunkSize

	total := full * frameLen(chunkstream.ChunkSize)
	if rem > 0 {
		total += frameLen(rem)
	}
	total += frameLen(0)
	total += trailerBlockLen(trailers)
	return total
}

func parseFlags() *Config {
	cfg := &Config{}
	flag.StringVar(&cfg.Endpoint, "endpoint", "http://127.0.0.1:8080", "S3-compatible endpoint base URL")
	flag.StringVar(&cfg.Bucket, "bucket", "", "destination bucket")
	flag.StringVar(&cfg.Key, "key", "", "destination object key")
	flag.StringVar(&cfg.Region, "region", "us-east-1", "AWS region name")
	flag.StringVar(&cfg.File, "file", "", "path of the local file to upload")
	flag.StringVar(&cfg.AccessKey, "access-key", "", "access key ID (overrides the default credential chain)")
	flag.StringVar(&cfg.SecretKey, "secret-key", "", "secret access key (overrides the default credential chain)")
	flag.BoolVar(&cfg.WithChecksum, "with-checksum", false, "append an x-amz-checksum-crc32c trailer")
	flag.StringVar(&cfg.StatusAddr, "status-addr", "", "optional address to serve upload progress on, e.g. :9090")
	flag.Parse()
	return cfg
}

func resolveCredentials(ctx context.Context, cfg *Config) (accessKeyID, secretAccessKey string, err error) {
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		return cfg.AccessKey, cfg.SecretKey, nil
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return "", "", fmt.Errorf("loading AWS config: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "", "", fmt.Errorf("resolving credentials: %w", err)
	}
	return creds.AccessKeyID, creds.SecretAccessKey, nil
}

// buildTrailers computes the crc32c trailer for the file, if requested. It
// reads the whole file once up front, since the trailer signature chains
// after every data chunk's signature and so needs the checksum before the
// stream starts framing.
func buildTrailers(path string, want bool) ([]chunkstream.TrailerHeader, error) {
	if !want {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := crc32.New(crc32.MakeTable(crc32.Castagnoli))
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	var sum [4]byte
	copy(sum[:], h.Sum(nil))
	encoded := base64.StdEncoding.EncodeToString(sum[:])
	return []chunkstream.TrailerHeader{
		{Name: "x-amz-checksum-crc32c", Values: []string{encoded}},
	}, nil
}

func run(ctx context.Context, cfg *Config) error {
	if cfg.Bucket == "" || cfg.Key == "" || cfg.File == "" {
		return fmt.Errorf("streamput: -bucket, -key and -file are required")
	}

	info, err := os.Stat(cfg.File)
	if err != nil {
		return fmt.Errorf("stat %s: %w", cfg.File, err)
	}
	f, err := os.Open(cfg.File)
	if err != nil {
		return err
	}
	defer f.Close()

	accessKeyID, secretAccessKey, err := resolveCredentials(ctx, cfg)
	if err != nil {
		return err
	}

	trailers, err := buildTrailers(cfg.File, cfg.WithChecksum)
	if err != nil {
		return fmt.Errorf("computing trailers: %w", err)
	}

	timestamp := time.Now().UTC().Format("20060102T150405Z")
	date := timestamp[:8]
	credentialScope := fmt.Sprintf("%s/%s/s3/aws4_request", date, cfg.Region)
	signingKey := auth.CalculateSigningKey(secretAccessKey, date, cfg.Region, "s3")

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	reqURL := fmt.Sprintf("%s/%s/%s", endpoint, cfg.Bucket, cfg.Key)

	signedHeaders := []string{"host", "x-amz-content-sha256", "x-amz-date", "x-amz-decoded-content-length"}
	if len(trailers) > 0 {
		signedHeaders = append(signedHeaders, "x-amz-trailer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, reqURL, nil)
	if err != nil {
		return err
	}
	host := req.URL.Host
	req.Header.Set("X-Amz-Content-Sha256", "STREAMING-AWS4-HMAC-SHA256-PAYLOAD")
	req.Header.Set("X-Amz-Date", timestamp)
	req.Header.Set("X-Amz-Decoded-Content-Length", strconv.FormatInt(info.Size(), 10))
	req.Header.Set("Content-Encoding", "aws-chunked")
	req.Header.Set("X-Amz-Client-Request-Id", uuid.NewString())
	if len(trailers) > 0 {
		req.Header.Set("X-Amz-Trailer", trailers[0].Name)
	}

	seedSignature := calculateSeedSignature(req.URL.Path, host, signedHeaders, req.Header, timestamp, credentialScope, signingKey)
	req.Header.Set("Authorization", fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s,SignedHeaders=%s,Signature=%s",
		accessKeyID, credentialScope, strings.Join(signedHeaders, ";"), seedSignature))

	prog := &progress{total: info.Size()}
	if cfg.StatusAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/status", statusHandler(prog))
		logged := handlers.CombinedLoggingHandler(log.Writer(), mux)
		go func() {
			log.Printf("serving upload status on %s", cfg.StatusAddr)
			if err := http.ListenAndServe(cfg.StatusAddr, logged); err != nil && err != http.ErrServerClosed {
				log.Printf("status server stopped: %v", err)
			}
		}()
	}

	cfgSigning := chunkstream.SigningConfig{
		SigningKey:      signingKey,
		CredentialScope: credentialScope,
		Timestamp:       timestamp,
	}
	counted := &countingReader{r: f, prog: prog}
	enc := chunkstream.NewEncoder(counted, seedSignature, chunkstream.SigV4ChunkSigner{}, cfgSigning, trailers)

	req.Body = io.NopCloser(enc)
	req.ContentLength = encodedContentLength(info.Size(), trailers)

	log.Printf("uploading %s (%d bytes) to %s/%s", cfg.File, info.Size(), cfg.Bucket, cfg.Key)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("PUT request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("streamput: unexpected status %s: %s", resp.Status, body)
	}
	log.Printf("upload complete: %s", resp.Status)
	return nil
}

// calculateSeedSignature builds the canonical request and string-to-sign
// for the outer PUT request and derives the seed signature that chains
// into the first data chunk's signature. Mirrors
// pkg/auth.AWS4Authenticator.calculateSignatureV4Header's layout, run in
// the signing direction instead of the verifying one.
func calculateSeedSignature(path, host string, signedHeaders []string, header http.Header, timestamp, credentialScope string, signingKey []byte) string {
	uri := path
	if uri == "" {
		uri = "/"
	}

	var canonicalHeaders []string
	for _, h := range signedHeaders {
		var value string
		if h == "host" {
			value = host
		} else {
			value = header.Get(h)
		}
		canonicalHeaders = append(canonicalHeaders, fmt.Sprintf("%s:%s\n", h, strings.TrimSpace(value)))
	}

	canonicalRequest := strings.Join([]string{
		http.MethodPut,
		uri,
		"",
		strings.Join(canonicalHeaders, ""),
		strings.Join(signedHeaders, ";"),
		"STREAMING-AWS4-HMAC-SHA256-PAYLOAD",
	}, "\n")

	hashed := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		timestamp,
		credentialScope,
		hex.EncodeToString(hashed[:]),
	}, "\n")

	mac := hmac.New(sha256.New, signingKey)
	mac.Write([]byte(stringToSign))
	return hex.EncodeToString(mac.Sum(nil))
}

func main() {
	cfg := parseFlags()
	ctx := context.Background()
	if err := run(ctx, cfg); err != nil {
		log.Fatalf("streamput: %v", err)
	}
}

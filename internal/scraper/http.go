package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jgoulah/meterscraper/internal/log"
	"golang.org/x/net/publicsuffix"
)

// minExportSize is the smallest body accepted as an export
const minExportSize = 100

// BodyEncoding is how a login payload is sent
type BodyEncoding int

const (
	EncodeJSON BodyEncoding = iota
	EncodeForm
)

func (e BodyEncoding) String() string {
	if e == EncodeForm {
		return "form"
	}
	return "json"
}

// LoginAttempt is one way of posting credentials to the portal
type LoginAttempt struct {
	// Path is relative to the portal entry URL
	Path      string
	Encoding  BodyEncoding
	UserField string
}

// DefaultLoginAttempts are the login endpoints the portal has used
var DefaultLoginAttempts = []LoginAttempt{
	{Path: "api/Authentication", Encoding: EncodeJSON, UserField: "userName"},
	{Path: "api/Authentication", Encoding: EncodeJSON, UserField: "username"},
	{Path: "api/Login", Encoding: EncodeJSON, UserField: "userName"},
	{Path: "api/Authentication", Encoding: EncodeJSON, UserField: "email"},
	{Path: "api/User/Authenticate", Encoding: EncodeJSON, UserField: "userName"},
	{Path: "api/Account/Login", Encoding: EncodeJSON, UserField: "userName"},
	{Path: "api/Authentication", Encoding: EncodeForm, UserField: "userName"},
}

// ParamVariant builds export query parameters for a date range
type ParamVariant struct {
	Name  string
	Build func(from, to time.Time, dataType string) url.Values
}

// DefaultParamVariants are the date range shapes tried against each export endpoint
var DefaultParamVariants = []ParamVariant{
	{
		Name: "from_to",
		Build: func(from, to time.Time, dataType string) url.Values {
			return url.Values{
				"from":       {from.Format("2006-01-02")},
				"to":         {to.Format("2006-01-02")},
				"resolution": {dataType},
				"format":     {"csv"},
			}
		},
	},
	{
		Name: "start_end",
		Build: func(from, to time.Time, dataType string) url.Values {
			return url.Values{
				"startDate":  {from.Format("2006-01-02")},
				"endDate":    {to.Format("2006-01-02")},
				"resolution": {dataType},
				"format":     {"csv"},
			}
		},
	},
	{
		Name: "iso_timestamps",
		Build: func(from, to time.Time, dataType string) url.Values {
			return url.Values{
				"from": {from.Format("2006-01-02") + "T00:00:00"},
				"to":   {to.Format("2006-01-02") + "T23:59:59"},
				"type": {dataType},
			}
		},
	},
	{
		Name: "unix_millis",
		Build: func(from, to time.Time, dataType string) url.Values {
			return url.Values{
				"fromTimestamp": {strconv.FormatInt(from.UnixMilli(), 10)},
				"toTimestamp":   {strconv.FormatInt(to.UnixMilli(), 10)},
				"resolution":    {dataType},
			}
		},
	},
}

// ExportEndpoints lists the export URLs tried for a portal, in order
func ExportEndpoints(p Portal) []string {
	entry := strings.TrimSuffix(p.EntryURL, "/")
	api := strings.TrimSuffix(p.APIURL, "/")
	base := strings.TrimSuffix(p.BaseURL, "/")
	return []string{
		entry + "/api/MeteringData/Export",
		entry + "/api/Consumption/Export",
		entry + "/api/Data/Export",
		entry + "/api/ConsumptionData/Export",
		entry + "/api/MeterData/Export",
		api + "/consumption/export",
		api + "/meteringdata/export",
		base + "/api/consumption/export",
	}
}

// tokenKeys are the login response fields that may carry a session token
var tokenKeys = []string{"token", "access_token", "authToken", "sessionId"}

// HTTPScraper logs in and exports with plain HTTP requests. The portal has no
// documented API, so every endpoint is a guess.
type HTTPScraper struct {
	opts     Options
	client   *http.Client
	headers  http.Header
	attempts []LoginAttempt
	variants []ParamVariant
	now      func() time.Time

	loggedIn  bool
	closeOnce sync.Once
}

// NewHTTPScraper creates an HTTP strategy with a fresh cookie jar
func NewHTTPScraper(opts Options) (*HTTPScraper, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	client := &http.Client{Timeout: opts.Timeouts.Request}
	if opts.HTTPClient != nil {
		c := *opts.HTTPClient
		client = &c
	}
	client.Jar = jar

	headers := http.Header{}
	headers.Set("User-Agent", userAgent)
	headers.Set("Accept", "application/json, text/plain, */*")
	headers.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.8")
	headers.Set("Referer", opts.Portal.EntryURL)
	headers.Set("Origin", opts.Portal.BaseURL)

	return &HTTPScraper{
		opts:     opts,
		client:   client,
		headers:  headers,
		attempts: DefaultLoginAttempts,
		variants: DefaultParamVariants,
		now:      time.Now,
	}, nil
}

func (s *HTTPScraper) Name() string {
	return "http"
}

func (s *HTTPScraper) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range s.headers {
		req.Header[k] = v
	}
	return req, nil
}

// Login tries each login attempt in order until one looks successful
func (s *HTTPScraper) Login(ctx context.Context) error {
	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("strategy", s.Name()), slog.String("stage", "login")))
	logger := log.Ctx(ctx)
	logger.InfoContext(ctx, "connecting to portal", slog.Any("credentials", s.opts.Credentials))

	// Loading the portal first picks up its session cookies
	if req, err := s.newRequest(ctx, http.MethodGet, s.opts.Portal.EntryURL, nil); err == nil {
		if resp, err := s.client.Do(req); err != nil {
			logger.WarnContext(ctx, "portal page unreachable", slog.Any("error", err))
		} else {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			logger.InfoContext(ctx, "portal loaded", slog.Int("status", resp.StatusCode))
		}
	}

	for i, attempt := range s.attempts {
		if err := ctx.Err(); err != nil {
			return err
		}

		ok, err := s.tryLogin(ctx, attempt)
		if err != nil {
			logger.InfoContext(
				ctx,
				"login attempt failed",
				slog.Int("attempt", i+1),
				slog.String("path", attempt.Path),
				slog.Any("error", err),
			)
			continue
		}
		if ok {
			logger.InfoContext(ctx, "logged in", slog.Int("attempt", i+1), slog.String("path", attempt.Path))
			s.loggedIn = true
			return nil
		}
		logger.InfoContext(ctx, "login attempt unsuccessful", slog.Int("attempt", i+1), slog.String("path", attempt.Path))
	}

	return fmt.Errorf("%w: all %d login attempts failed", ErrLoginFailed, len(s.attempts))
}

func (s *HTTPScraper) tryLogin(ctx context.Context, attempt LoginAttempt) (bool, error) {
	target, err := url.JoinPath(s.opts.Portal.EntryURL, attempt.Path)
	if err != nil {
		return false, err
	}

	var body io.Reader
	var contentType string
	switch attempt.Encoding {
	case EncodeForm:
		form := url.Values{
			attempt.UserField: {s.opts.Credentials.Username},
			"password":        {s.opts.Credentials.Password},
		}
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		payload, err := json.Marshal(map[string]string{
			attempt.UserField: s.opts.Credentials.Username,
			"password":        s.opts.Credentials.Password,
		})
		if err != nil {
			return false, err
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	req, err := s.newRequest(ctx, http.MethodPost, target, body)
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("reading response body: %w", err)
	}

	log.Ctx(ctx).DebugContext(ctx, "login response", slog.String("url", target), slog.String("encoding", attempt.Encoding.String()), slog.Int("status", resp.StatusCode))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusFound:
	default:
		return false, nil
	}

	var result map[string]any
	if err := json.Unmarshal(respBody, &result); err == nil {
		if loginSucceeded(result) {
			s.attachToken(ctx, result)
			return true, nil
		}
	}

	lower := strings.ToLower(string(respBody))
	if strings.Contains(lower, "dashboard") || strings.Contains(lower, "logout") {
		return true, nil
	}

	if resp.StatusCode == http.StatusOK && s.hasCookies() {
		log.Ctx(ctx).InfoContext(ctx, "assuming login from session cookies")
		return true, nil
	}

	return false, nil
}

func loginSucceeded(result map[string]any) bool {
	if b, _ := result["success"].(bool); b {
		return true
	}
	if b, _ := result["authenticated"].(bool); b {
		return true
	}
	if status, _ := result["status"].(string); status == "success" {
		return true
	}
	for _, key := range []string{"token", "sessionId", "access_token"} {
		if _, ok := result[key]; ok {
			return true
		}
	}
	return false
}

// attachToken sends the first token found in the login response with every
// later request
func (s *HTTPScraper) attachToken(ctx context.Context, result map[string]any) {
	for _, key := range tokenKeys {
		raw, ok := result[key]
		if !ok {
			continue
		}
		token := fmt.Sprint(raw)
		s.headers.Set("Authorization", "Bearer "+token)
		s.headers.Set("X-Auth-Token", token)

		attrs := []any{slog.String("key", key)}
		if exp, ok := tokenExpiry(token); ok {
			attrs = append(attrs, slog.Time("expires", exp))
		}
		log.Ctx(ctx).InfoContext(ctx, "stored session token", attrs...)
		return
	}
}

// tokenExpiry reads the exp claim of a JWT without verifying it
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (s *HTTPScraper) hasCookies() bool {
	for _, raw := range []string{s.opts.Portal.EntryURL, s.opts.Portal.BaseURL} {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if len(s.client.Jar.Cookies(u)) > 0 {
			return true
		}
	}
	return false
}

// Download tries every export endpoint with every parameter shape and saves
// the first response that looks like a table
func (s *HTTPScraper) Download(ctx context.Context, daysBack int) (*Artifact, error) {
	if !s.loggedIn {
		return nil, ErrNotLoggedIn
	}
	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("strategy", s.Name()), slog.String("stage", "export")))
	logger := log.Ctx(ctx)

	if daysBack <= 0 {
		daysBack = 7
	}
	to := s.now()
	from := to.AddDate(0, 0, -daysBack)
	dataType := s.opts.dataType()

	logger.InfoContext(
		ctx,
		"requesting export",
		slog.String("from", from.Format("2006-01-02")),
		slog.String("to", to.Format("2006-01-02")),
		slog.String("dataType", dataType),
	)

	var authErr *AuthError
	tried, denied := 0, 0
	for _, endpoint := range ExportEndpoints(s.opts.Portal) {
		for _, variant := range s.variants {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			tried++

			body, status, contentType, err := s.get(ctx, endpoint, variant.Build(from, to, dataType))
			if err != nil {
				logger.DebugContext(ctx, "export request failed", slog.String("url", endpoint), slog.Any("error", err))
				continue
			}
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				denied++
				authErr = newAuthError(status, body)
				continue
			}
			if status != http.StatusOK || len(body) <= minExportSize || !looksTabular(contentType, body) {
				logger.DebugContext(ctx, "not an export", slog.String("url", endpoint), slog.String("variant", variant.Name), slog.Int("status", status))
				continue
			}

			logger.InfoContext(ctx, "export received", slog.String("url", endpoint), slog.String("variant", variant.Name), slog.Int("bytes", len(body)))
			return s.save(from, to, body)
		}
	}

	if authErr != nil && denied == tried {
		return nil, authErr
	}
	return nil, fmt.Errorf("%w: no export endpoint returned tabular data", ErrNoArtifactFound)
}

func (s *HTTPScraper) get(ctx context.Context, endpoint string, params url.Values) ([]byte, int, string, error) {
	req, err := s.newRequest(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, "", fmt.Errorf("reading response body: %w", err)
	}
	return body, resp.StatusCode, resp.Header.Get("Content-Type"), nil
}

// looksTabular accepts text content types, known header words, delimiters
// near the start, and spreadsheet archives
func looksTabular(contentType string, body []byte) bool {
	contentType = strings.ToLower(contentType)
	if strings.Contains(contentType, "csv") || strings.Contains(contentType, "text") {
		return true
	}
	if bytes.HasPrefix(body, []byte("Date")) || bytes.HasPrefix(body, []byte("Datum")) {
		return true
	}
	if bytes.HasPrefix(body, []byte("PK\x03\x04")) {
		return true
	}
	head := body[:min(len(body), 100)]
	return bytes.ContainsAny(head, ",;")
}

func (s *HTTPScraper) save(from, to time.Time, body []byte) (*Artifact, error) {
	if err := os.MkdirAll(s.opts.DownloadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating download dir: %w", err)
	}

	ext := ".csv"
	if bytes.HasPrefix(body, []byte("PK\x03\x04")) {
		ext = ".xlsx"
	}
	name := fmt.Sprintf("smartmeter_%s_%s_%s%s", from.Format("20060102"), to.Format("20060102"), s.now().Format("20060102_150405"), ext)
	path := filepath.Join(s.opts.DownloadDir, name)

	if err := os.WriteFile(path, body, 0644); err != nil {
		return nil, fmt.Errorf("writing export: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &Artifact{Path: path, Size: info.Size(), ModTime: info.ModTime(), Source: "http"}, nil
}

// Close drops the session
func (s *HTTPScraper) Close() error {
	s.closeOnce.Do(func() {
		s.loggedIn = false
		s.headers.Del("Authorization")
		s.headers.Del("X-Auth-Token")
		if jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List}); err == nil {
			s.client.Jar = jar
		}
		s.client.CloseIdleConnections()
	})
	return nil
}

// Package availability queries the vaccination portal for free appointment slots.
package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"impfwatch/pkg/logx"

	"golang.org/x/time/rate"
)

// DefaultEndpoint is the Lower Saxony portal endpoint. The region key is appended as a path segment.
const DefaultEndpoint = "https://www.impfportal-niedersachsen.de/portal/rest/appointments/findVaccinationCenterListFree"

var (
	// ErrDecode means the portal answered with a body that is not valid JSON.
	ErrDecode = errors.New("availability: decode response")
	// ErrRequest means the request never produced a response (timeout, DNS, reset).
	ErrRequest = errors.New("availability: request failed")
)

// Centre is one vaccination centre entry from a poll response.
type Centre struct {
	Name             string
	VaccineName      string
	FreeSlots        int
	FirstAppointment time.Time
	OutOfStock       bool
}

// Config configures the client.
type Config struct {
	Endpoint   string
	Timeout    time.Duration
	RatePerSec float64
	UserAgent  string
}

// Client is safe for concurrent use, though the poll loop calls it sequentially.
type Client struct {
	endpoint  string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	log       logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		endpoint:  endpoint,
		userAgent: strings.TrimSpace(cfg.UserAgent),
		http:      &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		log:       log,
	}
}

type response struct {
	ResultList []centreJSON `json:"resultList"`
}

type centreJSON struct {
	Name        string `json:"name"`
	VaccineName string `json:"vaccineName"`
	FreeSlots   int    `json:"freeSlotSizeOnline"`
	// The portal spells it "Appoinment".
	FirstAppointmentMS int64 `json:"firstAppoinmentDateSorterOnline"`
	OutOfStock         bool  `json:"outOfStock"`
}

// Query fetches the centres for one region.
//
// A non-200 status, a missing resultList or valid JSON of another shape yields
// an empty result and no error. A body that is not JSON yields ErrDecode; a
// transport failure yields ErrRequest.
func (c *Client) Query(ctx context.Context, regionKey string, birthDateMS int64) ([]Centre, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u := c.endpoint + "/" + url.PathEscape(strings.TrimSpace(regionKey))
	params := url.Values{}
	params.Set("birthdate", strconv.FormatInt(birthDateMS, 10))
	u += "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: region %s: %w", ErrRequest, regionKey, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: region %s: read body: %w", ErrRequest, regionKey, err)
	}
	c.log.Debug("availability checked",
		logx.String("region", regionKey),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		c.log.Debug("availability non-200; treating as no centres", logx.String("region", regionKey), logx.Int("status", resp.StatusCode))
		return nil, nil
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: region %s: invalid json", ErrDecode, regionKey)
	}
	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		// Valid JSON of another shape ([] or a non-array resultList) carries no centres.
		c.log.Debug("availability unexpected shape; treating as no centres", logx.String("region", regionKey), logx.Err(err))
		return nil, nil
	}

	centres := make([]Centre, 0, len(out.ResultList))
	for _, r := range out.ResultList {
		centre := Centre{
			Name:        r.Name,
			VaccineName: r.VaccineName,
			FreeSlots:   r.FreeSlots,
			OutOfStock:  r.OutOfStock,
		}
		if r.FirstAppointmentMS > 0 {
			centre.FirstAppointment = time.UnixMilli(r.FirstAppointmentMS)
		}
		centres = append(centres, centre)
	}
	return centres, nil
}

// Available returns the centres that are not out of stock, in response order.
func Available(centres []Centre) []Centre {
	out := make([]Centre, 0, len(centres))
	for _, c := range centres {
		if !c.OutOfStock {
			out = append(out, c)
		}
	}
	return out
}

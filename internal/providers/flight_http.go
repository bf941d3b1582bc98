package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/abhinavathankar/Departly.ai/internal/models"
)

// HTTPFlightSource implements FlightSource against a JSON flight-status API.
// The provider owns its wire format; only the fields the engine consumes are
// decoded here.
type HTTPFlightSource struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewHTTPFlightSource(baseURL, apiKey string) *HTTPFlightSource {
	return &HTTPFlightSource{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

type flightStatusResponse struct {
	Carrier      string `json:"carrier"`
	Number       string `json:"number"`
	Origin       string `json:"origin"`
	Destination  string `json:"destination"`
	Scheduled    string `json:"scheduled_departure"` // RFC 3339
	Estimated    string `json:"estimated_departure"` // RFC 3339, may be empty
	Status       string `json:"status"`
	GateCloseMin int    `json:"gate_close_minutes"`  // 0 when unknown
}

// Lookup fetches the current status of one flight.
func (s *HTTPFlightSource) Lookup(ctx context.Context, id models.FlightIdentifier) (FlightStatusPayload, error) {
	endpoint := fmt.Sprintf("%s/flights/%s/%s",
		s.baseURL,
		url.PathEscape(id.Carrier+id.Number),
		url.PathEscape(id.Date),
	)

	resp, err := doWithRetry(ctx, s.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", s.apiKey)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return FlightStatusPayload{}, fmt.Errorf("lookup flight %s: %w", id, err)
	}
	defer resp.Body.Close()

	var body flightStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return FlightStatusPayload{}, fmt.Errorf("lookup flight %s: decode response: %w", id, err)
	}

	scheduled, err := time.Parse(time.RFC3339, body.Scheduled)
	if err != nil {
		return FlightStatusPayload{}, fmt.Errorf("lookup flight %s: bad scheduled departure %q: %w", id, body.Scheduled, err)
	}

	var estimated time.Time
	if body.Estimated != "" {
		estimated, err = time.Parse(time.RFC3339, body.Estimated)
		if err != nil {
			return FlightStatusPayload{}, fmt.Errorf("lookup flight %s: bad estimated departure %q: %w", id, body.Estimated, err)
		}
	}

	return FlightStatusPayload{
		Carrier:            body.Carrier,
		Number:             body.Number,
		OriginAirport:      body.Origin,
		DestinationAirport: body.Destination,
		ScheduledDeparture: scheduled,
		EstimatedDeparture: estimated,
		Status:             body.Status,
		GateCloseOffset:    time.Duration(body.GateCloseMin) * time.Minute,
	}, nil
}

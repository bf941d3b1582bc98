package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/abhinavathankar/Departly.ai/internal/models"
)

// HTTPTrafficSource implements TrafficSource against a JSON routing API.
// When the API supports time-dependent routing the request carries the
// desired arrival instant; when it rejects that parameter the source retries
// once as a plain depart-now request and marks the payload accordingly.
type HTTPTrafficSource struct {
	client  *http.Client
	baseURL string
	apiKey  string
	profile string
}

func NewHTTPTrafficSource(baseURL, apiKey string) *HTTPTrafficSource {
	return &HTTPTrafficSource{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
		profile: "driving-car",
	}
}

type routeRequest struct {
	Origin      []float64 `json:"origin"`      // [lon, lat]
	Destination []float64 `json:"destination"` // [lon, lat]
	Profile     string    `json:"profile"`
	ArrivalBy   string    `json:"arrival_by,omitempty"` // RFC 3339
}

type routeResponse struct {
	DurationSeconds    float64 `json:"duration_seconds"`
	PessimisticSeconds float64 `json:"pessimistic_seconds"`
}

// Route estimates travel time from origin to destination, timed for arrival
// by desiredArrival when possible.
func (s *HTTPTrafficSource) Route(ctx context.Context, origin, destination models.Coordinates, desiredArrival time.Time) (RoutePayload, error) {
	payload, err := s.route(ctx, origin, destination, desiredArrival)
	if err == nil || desiredArrival.IsZero() {
		return payload, err
	}

	// Some routing backends reject arrival-time requests outright. Fall back
	// to depart-now so the estimator can widen the pessimistic bound.
	var he *httpStatusError
	if errors.As(err, &he) && he.Code == http.StatusBadRequest {
		payload, err = s.route(ctx, origin, destination, time.Time{})
		if err != nil {
			return RoutePayload{}, err
		}
		payload.DepartNow = true
		return payload, nil
	}

	return RoutePayload{}, err
}

func (s *HTTPTrafficSource) route(ctx context.Context, origin, destination models.Coordinates, desiredArrival time.Time) (RoutePayload, error) {
	reqBody := routeRequest{
		Origin:      []float64{origin.Lon, origin.Lat},
		Destination: []float64{destination.Lon, destination.Lat},
		Profile:     s.profile,
	}
	if !desiredArrival.IsZero() {
		reqBody.ArrivalBy = desiredArrival.Format(time.RFC3339)
	}

	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return RoutePayload{}, fmt.Errorf("route: encode request: %w", err)
	}

	endpoint := s.baseURL + "/v2/directions/" + s.profile
	resp, err := doWithRetry(ctx, s.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", s.apiKey)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return RoutePayload{}, fmt.Errorf("route: %w", err)
	}
	defer resp.Body.Close()

	var body routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return RoutePayload{}, fmt.Errorf("route: decode response: %w", err)
	}

	return RoutePayload{
		Duration:    time.Duration(body.DurationSeconds * float64(time.Second)),
		Pessimistic: time.Duration(body.PessimisticSeconds * float64(time.Second)),
		DepartNow:   desiredArrival.IsZero(),
	}, nil
}

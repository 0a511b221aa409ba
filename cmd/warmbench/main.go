// Command warmbench drives the nearby-property endpoint with a grid of
// points clustered around a center, to exercise geohash neighbor-cell
// warming and report observed cache hit-ratio statistics.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

type nearbyClient struct {
	baseURL string
	client  *http.Client
}

func newNearbyClient(baseURL string) *nearbyClient {
	return &nearbyClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// query hits GET /api/v1/properties/nearby and reports whether the
// response was served from cache via the X-Cache-Outcome header.
func (c *nearbyClient) query(ctx context.Context, lat, lng, radiusKm float64) (outcome string, err error) {
	u, err := url.Parse(c.baseURL + "/api/v1/properties/nearby")
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lng", strconv.FormatFloat(lng, 'f', 6, 64))
	q.Set("radius", strconv.FormatFloat(radiusKm, 'f', 2, 64))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.Header.Get("X-Cache-Outcome"), nil
}

type stats struct {
	requests int
	hits     int
	misses   int
	errors   int
}

func (s stats) hitRatio() float64 {
	if s.requests == 0 {
		return 0
	}
	return float64(s.hits) / float64(s.requests)
}

// jitteredGrid generates n points scattered uniformly in a square box
// reaching radiusKm/111 degrees either side of the center in both
// latitude and longitude, so repeated runs touch a mix of the center
// cell and its geohash neighbors.
func jitteredGrid(centerLat, centerLng, radiusKm float64, n int, rng *rand.Rand) [][2]float64 {
	points := make([][2]float64, 0, n)
	const kmPerDegreeLat = 111.0
	for i := 0; i < n; i++ {
		dLat := (rng.Float64()*2 - 1) * (radiusKm / kmPerDegreeLat)
		dLng := (rng.Float64()*2 - 1) * (radiusKm / kmPerDegreeLat)
		points = append(points, [2]float64{centerLat + dLat, centerLng + dLng})
	}
	return points
}

func main() {
	baseURL := getenv("WARMBENCH_TARGET", "http://localhost:8090")
	centerLat := getenvFloat("WARMBENCH_LAT", 40.7128)
	centerLng := getenvFloat("WARMBENCH_LNG", -74.0060)
	radiusKm := getenvFloat("WARMBENCH_RADIUS_KM", 5.0)
	iterations := getenvInt("WARMBENCH_ITERATIONS", 200)
	pointCount := getenvInt("WARMBENCH_POINTS", 20)
	seed := int64(getenvInt("WARMBENCH_SEED", 42))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rng := rand.New(rand.NewSource(seed))
	points := jitteredGrid(centerLat, centerLng, radiusKm, pointCount, rng)

	client := newNearbyClient(baseURL)

	fmt.Printf("warmbench: target=%s center=(%.4f,%.4f) radiusKm=%.2f points=%d iterations=%d\n",
		baseURL, centerLat, centerLng, radiusKm, pointCount, iterations)

	var s stats
	for i := 0; i < iterations; i++ {
		p := points[rng.Intn(len(points))]
		outcome, err := client.query(ctx, p[0], p[1], radiusKm)
		s.requests++
		switch {
		case err != nil:
			s.errors++
			fmt.Println("request error:", err)
		case outcome == "hit":
			s.hits++
		default:
			s.misses++
		}

		if i > 0 && i%50 == 0 {
			fmt.Printf("progress: %d/%d requests, hit ratio so far %.2f%%\n", i, iterations, s.hitRatio()*100)
		}
	}

	report, _ := json.MarshalIndent(map[string]any{
		"requests":  s.requests,
		"hits":      s.hits,
		"misses":    s.misses,
		"errors":    s.errors,
		"hit_ratio": s.hitRatio(),
	}, "", "  ")
	fmt.Println(string(report))
}

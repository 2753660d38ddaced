package eta

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/example/emergency-dispatch/internal/models"
)

// OSRMClient performs route/eta lookups against an OSRM HTTP server,
// for deployments that want road travel time instead of the naive
// minutes-per-km estimate.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

// EstimateMinutes queries OSRM /route between points and returns the
// duration rounded up to whole minutes.
func (o *OSRMClient) EstimateMinutes(from, to models.Coord) (int, error) {
	// OSRM route query: /route/v1/driving/{lon1},{lat1};{lon2},{lat2}?overview=false
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=false", o.Endpoint, from.Lon, from.Lat, to.Lon, to.Lat)
	resp, err := o.Client.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var out struct {
		Routes []struct {
			Duration float64 `json:"duration"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return 0, fmt.Errorf("osrm no route: %v", out.Code)
	}
	return int(math.Ceil(out.Routes[0].Duration / 60)), nil
}

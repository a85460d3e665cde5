package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wattbound/wattd/internal/daemon"
)

// apiGet fetches a JSON document from the running daemon.
func apiGet(path string, out interface{}) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://%s:%d%s", cfg.API.Host, cfg.API.Port, path)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("is wattd running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s for %s", resp.Status, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

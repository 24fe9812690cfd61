// watch polls a lot's snapshot from a running server and prints every
// price or status change, with the autoupdate/offline indicator the UI
// would show. It exists mostly to exercise the polling loop end to end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Martin-Hayot/bidding-engine/internal/poller"
	"github.com/Martin-Hayot/bidding-engine/pkg/types"
	"github.com/charmbracelet/log"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "bidding server base URL")
	lotID := flag.String("lot", "", "lot id to watch")
	token := flag.String("token", "", "bearer token")
	interval := flag.Duration("interval", 4*time.Second, "poll interval")
	flag.Parse()

	if *lotID == "" {
		log.Fatal("missing -lot flag")
	}

	client := &http.Client{}
	var mu sync.Mutex
	var last *types.LotSnapshot

	fetchSnapshot := func(ctx context.Context) (*types.LotSnapshot, error) {
		url := fmt.Sprintf("%s/api/v1/lots/%s/snapshot", *server, *lotID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		if *token != "" {
			req.Header.Set("Authorization", "Bearer "+*token)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("server returned %d", resp.StatusCode)
		}
		var snapshot types.LotSnapshot
		if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
			return nil, err
		}
		return &snapshot, nil
	}

	p := poller.New(
		poller.Config{Interval: *interval},
		nil,
		func(ctx context.Context) (bool, error) {
			snapshot, err := fetchSnapshot(ctx)
			if err != nil {
				return false, err
			}
			mu.Lock()
			defer mu.Unlock()
			changed := last == nil ||
				!last.CurrentPrice.Equal(snapshot.CurrentPrice) ||
				last.Status != snapshot.Status ||
				last.BidsCount != snapshot.BidsCount
			last = snapshot
			return changed, nil
		},
		func(ctx context.Context) {
			// A change was observed: re-fetch the full snapshot instead of
			// patching what we already printed.
			snapshot, err := fetchSnapshot(ctx)
			if err != nil {
				return
			}
			log.Infof("Lot %s: %s %s, %d bids, %s, %s left",
				snapshot.LotID, snapshot.CurrentPrice.String(), snapshot.Currency,
				snapshot.BidsCount, snapshot.Status, snapshot.TimeRemaining.Round(time.Second))
		},
	)

	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	// Surface the connectivity indicator like the UI would.
	go func() {
		wasConnected := true
		for {
			time.Sleep(time.Second)
			connected := p.Connected()
			if connected != wasConnected {
				if connected {
					log.Info("autoupdate resumed")
				} else {
					log.Warn("offline, retrying with backoff")
				}
				wasConnected = connected
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

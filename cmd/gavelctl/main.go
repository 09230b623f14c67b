// Command gavelctl provides CLI tools for interacting with a running gaveld
// service.
//
// # Commands
//
// bid: Place a bid on an auction.
//
//	gavelctl bid --service=http://localhost:8080 --auction=<id> --bidder=alice --account=<id> --amount=150
//
// watch: Stream auction events from the websocket feed.
//
//	gavelctl watch --service=http://localhost:8080
//
// status: Display all auctions and their current state.
//
//	gavelctl status --service=http://localhost:8080
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gavelnet/gavel/engine"
	"github.com/gavelnet/gavel/server"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "bid":
		err = runBid(args)
	case "watch":
		err = runWatch(args)
	case "status":
		err = runStatus(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: gavelctl <command> [options]

Commands:
  bid      Place a bid on an auction
  watch    Stream auction events
  status   Display all auctions

Common options:
  --service, -s   Service base URL (default http://localhost:8080)`)
}

func runBid(args []string) error {
	service := "http://localhost:8080"
	var (
		auction, bidder, account string
		amount, observed         uint64
	)

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--service", "-s":
			i++
			service = args[i]
		case "--auction", "-a":
			i++
			auction = args[i]
		case "--bidder":
			i++
			bidder = args[i]
		case "--account":
			i++
			account = args[i]
		case "--amount":
			i++
			v, err := strconv.ParseUint(args[i], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			amount = v
		case "--observed-version":
			i++
			v, err := strconv.ParseUint(args[i], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			observed = v
		case "--help", "-h":
			fmt.Println("Usage: gavelctl bid --auction=<id> --bidder=<party> --account=<id> --amount=<n> [--observed-version=<v>]")
			return nil
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	if auction == "" || bidder == "" || account == "" || amount == 0 {
		return fmt.Errorf("bid requires --auction, --bidder, --account and --amount")
	}

	body, err := json.Marshal(server.PlaceBidRequest{
		Bidder:          bidder,
		PaymentAccount:  account,
		Amount:          amount,
		ObservedVersion: observed,
	})
	if err != nil {
		return err
	}

	resp, err := http.Post(service+"/auctions/"+auction+"/bids", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("placing bid: %w", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bid rejected (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var updated server.AuctionResponse
	if err := json.Unmarshal(payload, &updated); err != nil {
		return err
	}
	fmt.Printf("Bid placed. Top: %s at %d, ends %s (version %d)\n",
		updated.TopBidder, updated.TopAmount, updated.EndTime.Format(time.RFC3339), updated.Version)
	return nil
}

func runWatch(args []string) error {
	service := "http://localhost:8080"
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--service", "-s":
			i++
			service = args[i]
		case "--help", "-h":
			fmt.Println("Usage: gavelctl watch [--service=<url>]")
			return nil
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	wsURL := strings.Replace(service, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("connecting to feed: %w", err)
	}
	defer conn.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		conn.Close()
	}()

	fmt.Printf("Watching %s\n", wsURL)
	for {
		var ev engine.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return nil
		}
		fmt.Printf("[%d] %s auction=%s", ev.Seq, ev.Type, ev.Auction)
		if ev.Bidder != "" {
			fmt.Printf(" bidder=%s", ev.Bidder)
		}
		if ev.Amount > 0 {
			fmt.Printf(" amount=%d", ev.Amount)
		}
		if !ev.EndTime.IsZero() {
			fmt.Printf(" ends=%s", ev.EndTime.Format(time.RFC3339))
		}
		fmt.Println()
	}
}

func runStatus(args []string) error {
	service := "http://localhost:8080"
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--service", "-s":
			i++
			service = args[i]
		case "--help", "-h":
			fmt.Println("Usage: gavelctl status [--service=<url>]")
			return nil
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	resp, err := http.Get(service + "/auctions")
	if err != nil {
		return fmt.Errorf("fetching auctions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service returned %d", resp.StatusCode)
	}

	var auctions []server.AuctionResponse
	if err := json.NewDecoder(resp.Body).Decode(&auctions); err != nil {
		return err
	}
	if len(auctions) == 0 {
		fmt.Println("No auctions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AUCTION\tSTATE\tTOP BIDDER\tTOP AMOUNT\tENDS\tCLAIMED")
	for _, a := range auctions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%v\n",
			shortID(a.ID), a.State, a.TopBidder, a.TopAmount,
			a.EndTime.Format(time.RFC3339), a.AssetClaimed)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

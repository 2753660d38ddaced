// Command caregiver is the terminal client for on-call caregivers: it
// follows the live request feed, pops incoming requests as flash cards
// and submits competing offers.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/example/emergency-dispatch/internal/card"
	"github.com/example/emergency-dispatch/internal/client"
	"github.com/example/emergency-dispatch/internal/eta"
	"github.com/example/emergency-dispatch/internal/feed"
	"github.com/example/emergency-dispatch/internal/models"
)

func main() {
	var (
		server      string
		caregiverID string
		lat, lon    float64
		hasPos      bool
		radiusKm    float64
		fee         int64
		audioSink   string
		osrm        string
		window      int
	)
	flag.StringVar(&server, "server", "http://localhost:8080", "dispatch server base URL")
	flag.StringVar(&caregiverID, "caregiver", "", "caregiver id (required)")
	flag.Float64Var(&lat, "lat", 0, "current latitude")
	flag.Float64Var(&lon, "lon", 0, "current longitude")
	flag.Float64Var(&radiusKm, "radius", 0, "home-visit radius in km (0 = use profile, then show all)")
	flag.Int64Var(&fee, "fee", 0, "default per-visit fee for offer pre-fill (0 = use profile)")
	flag.StringVar(&audioSink, "audio-sink", "", "file or device to write the alert tone to")
	flag.StringVar(&osrm, "osrm", "", "OSRM endpoint for road ETA pre-fill (optional)")
	flag.IntVar(&window, "window", 45, "seconds to decide before a card auto-dismisses")
	flag.Parse()
	hasPos = flagPassed("lat") && flagPassed("lon")

	if caregiverID == "" {
		log.Fatal("-caregiver is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli := client.New(server, caregiverID)

	if profile, err := cli.Profile(ctx); err == nil {
		if radiusKm == 0 {
			radiusKm = profile.MaxRadiusKm
		}
		if fee == 0 {
			fee = profile.VisitFee
		}
	}

	var est *estimator
	if osrm != "" {
		est = &estimator{client: eta.NewOSRMClient(osrm), cache: eta.NewCache(5 * time.Minute)}
	}

	var pos *models.Coord
	if hasPos {
		pos = &models.Coord{Lat: lat, Lon: lon}
		if err := cli.ReportLocation(ctx, models.CaregiverLocation{CaregiverID: caregiverID, Loc: *pos, Sharing: true}); err != nil {
			log.Printf("location report failed: %v", err)
		}
	}

	// the cue is cosmetic: fetch once, replay on events, ignore failures
	var tone []byte
	if audioSink != "" {
		tone, _ = cli.AlertTone(ctx)
	}
	chime := func() error {
		if tone == nil || audioSink == "" {
			return nil
		}
		return os.WriteFile(audioSink, tone, 0o644)
	}

	src := newTeeSource(cli)
	sub := feed.New(src, feed.Options{
		CaregiverID: caregiverID,
		Position:    pos,
		RadiusKm:    radiusKm,
		Chime:       chime,
	})
	go func() {
		if err := sub.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("feed stopped: %v", err)
			stop()
		}
	}()

	fmt.Println("commands: list | open <request-id> | accept | offer <price> <eta> [message] | back | dismiss | quit")
	repl(ctx, cli, sub, src, caregiverID, fee, window, pos, est, stop)
}

func repl(ctx context.Context, cli *client.Client, sub *feed.Subscriber, src *teeSource, caregiverID string, fee int64, window int, pos *models.Coord, est *estimator, stop func()) {
	var (
		active     *card.Card
		activeStop func()
	)
	closeActive := func() {
		if activeStop != nil {
			activeStop()
		}
		active, activeStop = nil, nil
	}
	defer closeActive()

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "list":
			for _, v := range sub.Snapshot() {
				line := fmt.Sprintf("%s  %s  %s  %s", v.ID, v.Urgency, v.City, strings.Join(v.Services, ","))
				if v.DistanceKm != nil {
					line += fmt.Sprintf("  %.1fkm", *v.DistanceKm)
				}
				if v.OfferSent {
					line += "  [offer sent]"
				}
				fmt.Println(line)
			}
		case "open":
			if len(fields) != 2 {
				fmt.Println("usage: open <request-id>")
				continue
			}
			closeActive()
			var target *feed.View
			for _, v := range sub.Snapshot() {
				if v.ID == fields[1] {
					target = &v
					break
				}
			}
			if target == nil {
				fmt.Println("no such live request")
				continue
			}
			etaPrefill := 0
			if est != nil && pos != nil {
				etaPrefill = est.minutes(*pos, target.Loc)
			}
			c := card.New(card.Config{
				Request:         target.EmergencyRequest,
				CaregiverID:     caregiverID,
				AutoHideSeconds: window,
				DistanceKm:      target.DistanceKm,
				ETAMinutes:      etaPrefill,
				DefaultFee:      fee,
				Submitter:       cli,
				Renderer:        consoleRenderer{},
				OnAccepted:      func() { sub.MarkOfferSent(fields[1]) },
				OnDismiss:       func() { fmt.Println("card closed") },
			})
			cctx, cancel := context.WithCancel(ctx)
			events := src.Tap()
			go c.Run(cctx, events)
			c.Mount()
			active, activeStop = c, func() { cancel(); src.Untap(events) }
		case "accept":
			if active != nil {
				active.Accept()
			}
		case "offer":
			if active == nil || len(fields) < 3 {
				fmt.Println("usage: offer <price> <eta-minutes> [message]")
				continue
			}
			price, err1 := strconv.ParseInt(fields[1], 10, 64)
			etaMin, err2 := strconv.Atoi(fields[2])
			if err1 != nil || err2 != nil {
				fmt.Println("price and eta must be numbers")
				continue
			}
			active.SetInput(price, etaMin, strings.Join(fields[3:], " "))
			if err := active.Confirm(ctx); err != nil {
				fmt.Printf("!! %v\n", err)
			}
		case "back":
			if active != nil {
				active.Back()
			}
		case "dismiss":
			if active != nil {
				active.Dismiss()
				closeActive()
			}
		case "quit":
			stop()
			return
		default:
			fmt.Println("unknown command")
		}
	}
}

// estimator wraps the routing client with the TTL cache; a lookup
// failure just falls back to the distance-derived pre-fill.
type estimator struct {
	client eta.Client
	cache  *eta.Cache
}

func (e *estimator) minutes(from, to models.Coord) int {
	if v, ok := e.cache.Get(from, to); ok {
		return v
	}
	v, err := e.client.EstimateMinutes(from, to)
	if err != nil {
		return 0
	}
	e.cache.Set(from, to, v)
	return v
}

type consoleRenderer struct{}

func (consoleRenderer) Render(s card.Snapshot) {
	switch s.State {
	case card.StateCounting:
		fmt.Printf("\r[%s] %s: %ds to respond", s.Request.Urgency, s.Request.PatientName, s.Remaining)
	case card.StateOfferInput:
		fmt.Printf("\noffer for %s: price=%d eta=%dmin (edit with `offer`, send with `offer <price> <eta>`)\n", s.Request.ID, s.Price, s.ETAMinutes)
	case card.StateSubmitting:
		fmt.Println("submitting...")
	case card.StateAccepted:
		fmt.Println("offer sent!")
	case card.StateDismissed:
		if s.Notice != "" {
			fmt.Println("\n" + s.Notice)
		}
	}
}

// teeSource wraps the client so the feed subscription can also be
// tapped by the card currently on screen.
type teeSource struct {
	*client.Client

	mu   sync.Mutex
	taps map[chan models.RequestEvent]struct{}
}

func newTeeSource(c *client.Client) *teeSource {
	return &teeSource{Client: c, taps: make(map[chan models.RequestEvent]struct{})}
}

func (t *teeSource) Subscribe(ctx context.Context) (<-chan models.RequestEvent, func(), error) {
	in, cancel, err := t.Client.Subscribe(ctx)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan models.RequestEvent)
	go func() {
		defer close(out)
		for ev := range in {
			t.mu.Lock()
			for tap := range t.taps {
				select {
				case tap <- ev:
				default: // a stalled card must not block the feed
				}
			}
			t.mu.Unlock()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cancel, nil
}

func (t *teeSource) Tap() chan models.RequestEvent {
	ch := make(chan models.RequestEvent, 16)
	t.mu.Lock()
	t.taps[ch] = struct{}{}
	t.mu.Unlock()
	return ch
}

func (t *teeSource) Untap(ch chan models.RequestEvent) {
	t.mu.Lock()
	delete(t.taps, ch)
	t.mu.Unlock()
}

func flagPassed(name string) bool {
	passed := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}

// Command heaven-voice runs an interactive voice session against the live
// API from the terminal: microphone in, assistant audio out, with tool calls
// served by in-memory demo collaborators.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/heavendeskai/askheaven/internal/dotenv"
	"github.com/heavendeskai/askheaven/pkg/assistant"
	"github.com/heavendeskai/askheaven/pkg/voice"
)

type options struct {
	endpoint string
	apiKey   string
	voice    string
	envFile  string

	name       string
	role       string
	strictness string
	verbosity  string
	tier       string

	meter bool
	debug bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	var opt options
	flag.StringVar(&opt.envFile, "env-file", ".env", "Path to a dotenv file loaded before flags are resolved")
	flag.StringVar(&opt.endpoint, "endpoint", "", "Live API websocket endpoint (ws:// or wss://); required (also reads HEAVEN_LIVE_ENDPOINT)")
	flag.StringVar(&opt.apiKey, "api-key", "", "API key (also reads HEAVEN_API_KEY)")
	flag.StringVar(&opt.voice, "voice", voice.DefaultVoice, "Prebuilt voice name")
	flag.StringVar(&opt.name, "name", "", "User name for the persona")
	flag.StringVar(&opt.role, "role", "", "User role for the persona")
	flag.StringVar(&opt.strictness, "strictness", "firm", "Accountability style: gentle, firm, drill-sergeant")
	flag.StringVar(&opt.verbosity, "verbosity", "concise", "Response verbosity: concise or detailed")
	flag.StringVar(&opt.tier, "tier", "free", "Subscription tier: free or premium")
	flag.BoolVar(&opt.meter, "meter", true, "Render a live audio level meter")
	flag.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if err := dotenv.LoadFile(opt.envFile); err != nil {
		fmt.Fprintln(os.Stderr, "load env file:", err)
		return 2
	}
	if strings.TrimSpace(opt.endpoint) == "" {
		opt.endpoint = strings.TrimSpace(os.Getenv("HEAVEN_LIVE_ENDPOINT"))
	}
	if strings.TrimSpace(opt.apiKey) == "" {
		opt.apiKey = strings.TrimSpace(os.Getenv("HEAVEN_API_KEY"))
	}
	if strings.TrimSpace(opt.endpoint) == "" {
		fmt.Fprintln(os.Stderr, "--endpoint is required (or set HEAVEN_LIVE_ENDPOINT)")
		return 2
	}

	level := slog.LevelInfo
	if opt.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opt, logger); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		fmt.Fprintln(os.Stderr, "heaven-voice:", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, opt options, logger *slog.Logger) error {
	sessionID := uuid.NewString()
	logger = logger.With("session", sessionID)

	profile := &assistant.UserProfile{
		Name:             opt.name,
		Role:             opt.role,
		Strictness:       opt.strictness,
		Verbosity:        opt.verbosity,
		SubscriptionTier: opt.tier,
	}

	dispatcher := assistant.NewDispatcher(assistant.DispatcherConfig{
		Calendar: newDemoCalendar(),
		Mail:     newDemoMail(),
		OnTask: func(task assistant.Task) {
			fmt.Printf("\n[reminder] %s (%s, %s)\n", task.Text, task.Category, task.Priority)
		},
		OnMemory: func(memory assistant.Memory) {
			fmt.Printf("\n[memory] %s/%s = %s\n", memory.Category, memory.Key, memory.Value)
		},
		Logger: logger,
	})

	session, err := voice.StartSession(ctx, voice.SessionConfig{
		Transport: voice.TransportConfig{
			URL:    opt.endpoint,
			APIKey: opt.apiKey,
			Voice:  opt.voice,
		},
		Profile:    profile,
		Dispatcher: dispatcher,
		OnStatus: func(status voice.Status) {
			fmt.Printf("\n[%s]\n", status)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Println("Connected. Speak, or type /mute, /unmute, /end.")

	if opt.meter {
		session.Visualizer().Start(renderMeter())
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return readCommands(ctx, session)
	})
	group.Go(func() error {
		session.Wait()
		return session.Err()
	})
	group.Go(func() error {
		<-ctx.Done()
		_ = session.Close()
		return nil
	})
	err = group.Wait()
	if errors.Is(err, voice.ErrSessionClosed) {
		return nil
	}
	return err
}

func readCommands(ctx context.Context, session *voice.Session) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "/mute":
			session.SetMuted(true)
			fmt.Println("microphone muted")
		case "/unmute":
			session.SetMuted(false)
			fmt.Println("microphone live")
		case "/end", "/quit":
			return session.Close()
		case "":
		default:
			fmt.Println("commands: /mute /unmute /end")
		}
	}
	return scanner.Err()
}

// renderMeter returns an orb frame consumer that redraws a one-line level
// gauge, throttled so the terminal is not flooded at the orb frame rate.
func renderMeter() func(voice.OrbFrame) {
	var mu sync.Mutex
	var last time.Time
	const width = 24
	return func(frame voice.OrbFrame) {
		mu.Lock()
		defer mu.Unlock()
		if time.Since(last) < 100*time.Millisecond {
			return
		}
		last = time.Now()
		filled := int(frame.Level * width)
		if filled > width {
			filled = width
		}
		bar := strings.Repeat("#", filled) + strings.Repeat("-", width-filled)
		fmt.Printf("\r[%s] %-12s", bar, frame.Status)
	}
}

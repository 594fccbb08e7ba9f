// Package main provides vibedj, the command line client for vibedjd.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var log zerolog.Logger

var (
	flagAddr    string
	flagSeed    string
	flagMood    string
	flagLang    string
	flagMix     float64
	flagVibe    string
	flagCount   int
	flagTTL     string
	flagAvoid   []string
	flagPause   bool
	flagNext    bool
	flagPrev    bool
	flagStop    bool
	flagStatus  bool
	flagHealth  bool
	flagLike    bool
	flagDislike bool
	flagRemove  int
	flagSeekTo  float64
	flagSeekBy  float64
)

var rootCmd = &cobra.Command{
	Use:   "vibedj [prompt]",
	Short: "Talk to the vibedjd daemon",
	Long: `vibedj sends a vibe prompt or a playback control to a running vibedjd.

Examples:
  vibedj "calm tamil songs for a rainy evening"
  vibedj --seed "Kanmani Anbodu" "more like this"
  vibedj --dislike
  vibedj --status`,
	Args: cobra.ArbitraryArgs,
	RunE: run,
}

func main() {
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("request failed")
	}
}

func init() {
	rootCmd.Flags().StringVar(&flagAddr, "addr", "http://127.0.0.1:17845", "daemon address")
	rootCmd.Flags().StringVar(&flagSeed, "seed", "", "seed track search text")
	rootCmd.Flags().StringVar(&flagMood, "mood", "", "mood hint")
	rootCmd.Flags().StringVar(&flagLang, "lang", "", "language hint")
	rootCmd.Flags().Float64Var(&flagMix, "mix", -1, "explore ratio in [0,1]")
	rootCmd.Flags().StringVar(&flagVibe, "vibe", "", "strictness (strict, normal, loose)")
	rootCmd.Flags().IntVar(&flagCount, "n", 0, "queue size override")
	rootCmd.Flags().StringVar(&flagTTL, "ttl", "", "prompt cache TTL override, e.g. 24h")
	rootCmd.Flags().StringSliceVar(&flagAvoid, "avoid", nil, "extra terms to avoid")
	rootCmd.Flags().BoolVar(&flagPause, "pause", false, "toggle pause")
	rootCmd.Flags().BoolVar(&flagNext, "next", false, "skip to the next track")
	rootCmd.Flags().BoolVar(&flagPrev, "prev", false, "return to the previous track")
	rootCmd.Flags().BoolVar(&flagStop, "stop", false, "stop playback and clear the session")
	rootCmd.Flags().BoolVar(&flagStatus, "status", false, "print the current session status")
	rootCmd.Flags().BoolVar(&flagHealth, "health", false, "check that the daemon is up")
	rootCmd.Flags().BoolVar(&flagLike, "like", false, "upvote the current track")
	rootCmd.Flags().BoolVar(&flagDislike, "dislike", false, "downvote and skip the current track")
	rootCmd.Flags().IntVar(&flagRemove, "remove", 0, "remove the upcoming track at this queue index")
	rootCmd.Flags().Float64Var(&flagSeekTo, "seek-to", -1, "seek to an absolute position in seconds")
	rootCmd.Flags().Float64Var(&flagSeekBy, "seek-by", 0, "seek by a relative offset in seconds")
}

func run(cmd *cobra.Command, args []string) error {
	c := &client{base: strings.TrimRight(flagAddr, "/"), http: &http.Client{Timeout: 2 * time.Minute}}

	switch {
	case flagHealth:
		return c.simple("/health", nil)
	case flagStatus:
		return c.status()
	case flagPause:
		return c.simple("/pause", nil)
	case flagNext:
		return c.simple("/next", nil)
	case flagPrev:
		return c.simple("/prev", nil)
	case flagStop:
		return c.simple("/stop", nil)
	case flagLike:
		return c.vote("like")
	case flagDislike:
		return c.vote("dislike")
	case flagRemove > 0:
		return c.simple("/remove", url.Values{"index": {fmt.Sprint(flagRemove)}})
	case flagSeekTo >= 0:
		return c.simple("/seek", url.Values{"to": {fmt.Sprint(flagSeekTo)}})
	case flagSeekBy != 0:
		return c.simple("/seek", url.Values{"by": {fmt.Sprint(flagSeekBy)}})
	case len(args) > 0:
		return c.play(strings.Join(args, " "))
	default:
		return cmd.Help()
	}
}

type client struct {
	base string
	http *http.Client
}

func (c *client) get(path string, query url.Values) (map[string]any, error) {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	resp, err := c.http.Get(target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("unexpected response from daemon: %w", err)
	}
	if ok, _ := body["ok"].(bool); !ok {
		msg, _ := body["error"].(string)
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("%s", msg)
	}
	return body, nil
}

func (c *client) simple(path string, query url.Values) error {
	if _, err := c.get(path, query); err != nil {
		return err
	}
	log.Info().Str("action", strings.TrimPrefix(path, "/")).Msg("ok")
	return nil
}

func (c *client) vote(value string) error {
	body, err := c.get("/api/vote", url.Values{"value": {value}})
	if err != nil {
		return err
	}
	title, _ := body["title"].(string)
	artist, _ := body["artist"].(string)
	log.Info().Str("track", trackLine(title, artist)).Msg(value)
	return nil
}

func (c *client) play(prompt string) error {
	query := url.Values{"prompt": {prompt}}
	setIf := func(key, value string) {
		if value != "" {
			query.Set(key, value)
		}
	}
	setIf("seed", flagSeed)
	setIf("mood", flagMood)
	setIf("lang", flagLang)
	setIf("vibe", flagVibe)
	setIf("ttl", flagTTL)
	if flagMix >= 0 {
		query.Set("mix", fmt.Sprint(flagMix))
	}
	if flagCount > 0 {
		query.Set("n", fmt.Sprint(flagCount))
	}
	if len(flagAvoid) > 0 {
		query.Set("avoid", strings.Join(flagAvoid, ","))
	}

	log.Info().Str("prompt", prompt).Msg("curating, this can take a moment")

	body, err := c.get("/play", query)
	if err != nil {
		return err
	}

	source, _ := body["source"].(string)
	fmt.Printf("Now playing (%s, %v tracks):\n", source, body["count"])
	printTracks(body["queue"], 1)

	if next, ok := body["seed_next"].([]any); ok && len(next) > 0 {
		fmt.Println("\nUp next if you reseed:")
		printTracks(body["seed_next"], 1)
	}
	return nil
}

func (c *client) status() error {
	body, err := c.get("/api/status", nil)
	if err != nil {
		return err
	}

	status, _ := body["status"].(map[string]any)
	if status == nil {
		return fmt.Errorf("malformed status response")
	}

	phase, _ := status["phase"].(string)
	prompt, _ := status["prompt"].(string)
	fmt.Printf("Phase: %s\n", phase)
	if prompt != "" {
		fmt.Printf("Prompt: %s\n", prompt)
	}
	fmt.Printf("Queue: %v of %v\n", status["queue_size"], status["queue_target"])

	if playback, ok := body["playback"].(map[string]any); ok {
		elapsed, _ := playback["elapsed"].(float64)
		duration, _ := playback["duration"].(float64)
		paused, _ := playback["paused"].(bool)
		state := "playing"
		if paused {
			state = "paused"
		}
		fmt.Printf("Position: %s / %s (%s)\n", clock(elapsed), clock(duration), state)
	}

	printTracks(status["queue"], 1)
	return nil
}

func printTracks(raw any, start int) {
	tracks, ok := raw.([]any)
	if !ok {
		return
	}
	for i, entry := range tracks {
		track, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		title, _ := track["title"].(string)
		artist, _ := track["artist"].(string)
		marker := "  "
		if i == 0 && start == 1 {
			marker = "> "
		}
		fmt.Printf("%s%2d. %s\n", marker, start+i, trackLine(title, artist))
	}
}

func trackLine(title, artist string) string {
	if artist == "" {
		return title
	}
	return title + " by " + artist
}

func clock(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

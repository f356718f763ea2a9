package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/forest6511/diaryctl/internal/config"
	"github.com/forest6511/diaryctl/pkg/audit"
	"github.com/forest6511/diaryctl/pkg/reflection"
	"github.com/forest6511/diaryctl/pkg/sentiment"
)

// Insight command flags
var (
	promptNew bool

	insightsMonth string
	insightsTop   int

	reflectPeriod  string
	reflectAI      bool
	reflectRefresh bool
)

func init() {
	rootCmd.AddCommand(promptCmd)
	rootCmd.AddCommand(insightsCmd)
	rootCmd.AddCommand(reflectCmd)
	rootCmd.AddCommand(aiCmd)

	promptCmd.Flags().BoolVar(&promptNew, "new", false, "Pick a different prompt now")

	insightsCmd.Flags().StringVar(&insightsMonth, "month", "", "Month for the mood calendar (YYYY-MM, default current)")
	insightsCmd.Flags().IntVar(&insightsTop, "top", 10, "Number of themes to show")

	reflectCmd.Flags().StringVarP(&reflectPeriod, "period", "p", string(reflection.Week), "Summary period: week, month")
	reflectCmd.Flags().BoolVar(&reflectAI, "ai", false, "Add an AI reflection on the last 7 days (requires 'diaryctl ai enable')")
	reflectCmd.Flags().BoolVar(&reflectRefresh, "refresh", false, "Generate a new AI reflection even if today's exists")

	aiCmd.AddCommand(aiEnableCmd)
	aiCmd.AddCommand(aiDisableCmd)
	aiCmd.AddCommand(aiStatusCmd)
}

// promptCmd prints a writing prompt
var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Show a writing prompt",
	Long: `Show a writing prompt. The prompt stays the same for a while (see
prompt_rotation in config.yaml); --new picks another one. Prompts from the
latest AI reflection are preferred when one exists.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}
		p := reflection.NewPrompter(db, vm.Codec(), cfg.PromptRotation)
		text, err := p.Next(promptNew, time.Now())
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	},
}

// insightsCmd shows streak, themes and a mood calendar
var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Show writing streak, recurring themes and a mood calendar",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if insightsTop < 1 {
			return fmt.Errorf("--top must be positive")
		}
		now := time.Now()
		month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.Local)
		if insightsMonth != "" {
			m, err := time.ParseInLocation("2006-01", insightsMonth, time.Local)
			if err != nil {
				return fmt.Errorf("invalid --month (use YYYY-MM): %s", insightsMonth)
			}
			month = m
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}

		streak, err := journalSvc.Streak()
		if err != nil {
			return err
		}
		entries, err := journalSvc.All()
		if err != nil {
			return err
		}

		fmt.Printf("Streak:  %s\n", pluralDays(streak))
		fmt.Printf("Entries: %d\n\n", len(entries))

		lists := make([][]string, 0, len(entries))
		for _, e := range entries {
			lists = append(lists, e.Themes)
		}
		themes := sentiment.AggregateThemes(lists)
		if len(themes) > 0 {
			color.New(color.Bold).Println("Recurring themes")
			for _, tc := range themes[:min(insightsTop, len(themes))] {
				fmt.Printf("  %-20s %d\n", tc.Theme, tc.Count)
			}
			fmt.Println()
		}

		renderCalendar(os.Stdout, month, journalSvc.MoodByDay(entries))
		return nil
	},
}

// renderCalendar prints a Monday-first month grid. Each day is followed by
// its mood marker, keyed by local midnight in epoch ms.
func renderCalendar(w io.Writer, month time.Time, moods map[int64]sentiment.Label) {
	loc := month.Location()
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, loc)
	days := first.AddDate(0, 1, -1).Day()

	title := first.Format("January 2006")
	fmt.Fprintf(w, "%*s\n", (28+len(title))/2, title)
	fmt.Fprintln(w, " Mo  Tu  We  Th  Fr  Sa  Su")

	// time.Weekday starts on Sunday
	offset := (int(first.Weekday()) + 6) % 7
	var b strings.Builder
	b.WriteString(strings.Repeat("    ", offset))
	for d := 1; d <= days; d++ {
		key := time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, loc).UnixMilli()
		mark := " "
		if l, ok := moods[key]; ok {
			mark = moodColor(l).Sprint(moodSymbol(l))
		}
		fmt.Fprintf(&b, " %2d%s", d, mark)
		if (offset+d)%7 == 0 || d == days {
			fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
			b.Reset()
		}
	}
	fmt.Fprintln(w, "\n + positive   · neutral   - negative")
}

// reflectCmd summarizes a period and optionally asks the model for a reflection
var reflectCmd = &cobra.Command{
	Use:   "reflect",
	Short: "Summarize the last week or month",
	Long: `Summarize mood and themes over the last week or month, compared with the
period before it. The summary is computed locally.

With --ai, the last 7 days of entries are sent to the OpenAI API for a short
reflection and new writing prompts. This needs 'diaryctl ai enable' and
$OPENAI_API_KEY. One reflection is kept per day; --refresh replaces it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		period, err := reflection.ParsePeriod(reflectPeriod)
		if err != nil {
			return err
		}
		if reflectAI && !cfg.UseAI {
			return fmt.Errorf("AI reflections are disabled: run 'diaryctl ai enable' first")
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}

		now := time.Now()
		entries, err := journalSvc.All()
		if err != nil {
			return err
		}
		printSummary(os.Stdout, reflection.Summarize(entries, period, now))

		if !reflectAI {
			return nil
		}

		c := reflection.NewCache(db, vm.Codec())
		stored, err := c.Get()
		if err != nil {
			return err
		}
		if reflectRefresh || !stored.IsFrom(now) {
			client, err := reflection.NewOpenAIClient(config.APIKey(),
				reflection.WithModel(cfg.AI.Model),
				reflection.WithBaseURL(cfg.AI.BaseURL),
				reflection.WithMaxTokens(cfg.AI.MaxTokens),
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			err = withSpinner("Writing reflection...", func() error {
				var gerr error
				stored, gerr = reflection.Refresh(ctx, client, entries, c, now)
				return gerr
			})
			if err != nil {
				_ = auditLog.LogError(audit.OpReflectionGenerate, audit.SourceCLI, "", "generate_failed", err.Error())
				return fmt.Errorf("failed to generate reflection: %w", err)
			}
			_ = auditLog.LogSuccess(audit.OpReflectionGenerate, audit.SourceCLI, "")
		}

		fmt.Println()
		color.New(color.Bold).Printf("Reflection (%s)\n", stored.GeneratedDate)
		fmt.Println(stored.Reflection)
		if len(stored.Prompts) > 0 {
			fmt.Println("\nPrompts:")
			for _, p := range stored.Prompts {
				fmt.Printf("  - %s\n", p)
			}
		}
		return nil
	},
}

func printSummary(w io.Writer, s *reflection.Summary) {
	start := time.UnixMilli(s.StartDate).Local().Format("Jan 2")
	end := time.UnixMilli(s.EndDate).Local().Format("Jan 2")
	color.New(color.Bold).Fprintf(w, "Your %s (%s to %s)\n", s.Period, start, end)

	trend := map[reflection.Trend]string{
		reflection.TrendUp:     color.GreenString("more positive"),
		reflection.TrendDown:   color.RedString("more difficult"),
		reflection.TrendStable: "about the same",
	}[s.SentimentTrend]
	fmt.Fprintf(w, "Mood compared with the previous %s: %s\n", s.Period, trend)
	if len(s.TopThemes) > 0 {
		fmt.Fprintf(w, "Top themes: %s\n", strings.Join(s.TopThemes, ", "))
	}
	for _, h := range s.Highlights {
		fmt.Fprintf(w, "  • %s\n", h)
	}
}

// aiCmd is the parent command for the AI setting
var aiCmd = &cobra.Command{
	Use:   "ai",
	Short: "Turn AI reflections on or off",
}

var aiEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Allow 'reflect --ai' to send recent entries to OpenAI",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(os.Stderr, "When you run 'diaryctl reflect --ai', the text of your last 7 days of")
		fmt.Fprintln(os.Stderr, "entries is sent to the OpenAI API. Nothing is sent otherwise.")
		if err := cfg.SetUseAI(true); err != nil {
			return err
		}
		fmt.Printf("%s AI reflections enabled\n", okMark)
		if config.APIKey() == "" {
			out.WarnfAlways("$%s is not set", config.EnvAPIKey)
		}
		return nil
	},
}

var aiDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Stop sending entries to OpenAI",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.SetUseAI(false); err != nil {
			return err
		}
		fmt.Printf("%s AI reflections disabled\n", okMark)
		return nil
	},
}

var aiStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the AI setting",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("AI reflections: %s\n", onOff(cfg.UseAI))
		fmt.Printf("API key:        %s\n", onOff(config.APIKey() != ""))
		model := cfg.AI.Model
		if model == "" {
			model = reflection.DefaultModel
		}
		fmt.Printf("Model:          %s\n", model)
		return nil
	},
}

package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/patchtrack/config"
	"github.com/dhcgn/patchtrack/filter"
	"github.com/dhcgn/patchtrack/mbox"
	"github.com/dhcgn/patchtrack/model"
	"github.com/dhcgn/patchtrack/stats"
)

var (
	reportDir string
	topN      int
)

// trackedFields are the decoded fields counted per value.
var trackedFields = []string{"From", "Cc", "Subject", "Prefix"}

var mboxStatsCmd = &cobra.Command{
	Use:   "mbox-stats [mbox file]",
	Short: "Analyse the patch mails of an mbox file and show statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		mboxPath := args[0]
		fmt.Println("Analyzing mbox file:", mboxPath)

		f, err := filter.New(filter.Options{
			IncludeHeader: cfg.IncludeHeader,
			IncludeBody:   cfg.IncludeBody,
			ExcludeHeader: cfg.ExcludeHeader,
			ExcludeBody:   cfg.ExcludeBody,
		})
		if err != nil {
			return fmt.Errorf("create filter: %w", err)
		}

		counter := make(map[string]map[string]int)
		for _, field := range trackedFields {
			counter[field] = make(map[string]int)
		}

		messageCount := 0
		skippedCount := 0
		printStats := func() {
			// clear screen, cursor to top-left
			fmt.Print("\033[H\033[2J")
			totalMessages := messageCount + skippedCount
			var filterPercent float64
			if totalMessages > 0 {
				filterPercent = float64(skippedCount) / float64(totalMessages) * 100
			}
			fmt.Printf("Processed %d messages (skipped %d by filters, %.2f%%)...\n\n", messageCount, skippedCount, filterPercent)

			filterStats := f.GetStats()
			sections := []struct {
				title    string
				patterns []string
				hits     map[string]int
			}{
				{"Include Header Filters", filterStats.IncludeHeaderPatterns, filterStats.IncludeHeaderHits},
				{"Include Body Filters", filterStats.IncludeBodyPatterns, filterStats.IncludeBodyHits},
				{"Exclude Header Filters", filterStats.ExcludeHeaderPatterns, filterStats.ExcludeHeaderHits},
				{"Exclude Body Filters", filterStats.ExcludeBodyPatterns, filterStats.ExcludeBodyHits},
			}
			printed := false
			for _, s := range sections {
				if len(s.patterns) == 0 {
					continue
				}
				printed = true
				fmt.Println(s.title + ":")
				printFilterHits(s.patterns, s.hits)
				fmt.Println()
			}
			if printed {
				fmt.Println("---")
				fmt.Println()
			}

			for _, field := range trackedFields {
				fmt.Printf("Top %d %s:\n", topN, field)
				stats.PrettyPrintTop(counter[field], topN)
				fmt.Println()
			}
		}

		err = mbox.Read(mboxPath, func(msg model.Message) error {
			if !f.AllowsMessage(msg) {
				skippedCount++
				return nil
			}

			messageCount++
			countMessage(counter, msg)

			if messageCount%250 == 0 {
				printStats()
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("error reading mbox file: %w", err)
		}

		printStats()

		if err := saveCSVReports(counter, trackedFields, reportDir, 1000); err != nil {
			return fmt.Errorf("error saving CSV reports: %w", err)
		}

		fmt.Printf("\nReports saved to directory: %s\n", reportDir)
		return nil
	},
}

func init() {
	mboxStatsCmd.Flags().StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	mboxStatsCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	config.RegisterFilterFlags(mboxStatsCmd)
	rootCmd.AddCommand(mboxStatsCmd)
}

func countMessage(counter map[string]map[string]int, msg model.Message) {
	if msg.From != "" {
		counter["From"][msg.From]++
	}
	for _, cc := range msg.Cc {
		counter["Cc"][cc]++
	}
	if msg.Subject != "" {
		counter["Subject"][msg.Subject]++
	}
	if prefix := subjectPrefix(msg.Subject); prefix != "" {
		counter["Prefix"][prefix]++
	}
}

// subjectPrefix returns the leading bracketed tag of a patch subject, e.g.
// "PATCH v2 3/7" for "[PATCH v2 3/7] foo: bar", with the series position
// dropped.
func subjectPrefix(subject string) string {
	if !strings.HasPrefix(subject, "[") {
		return ""
	}
	end := strings.Index(subject, "]")
	if end < 0 {
		return ""
	}
	fields := strings.Fields(subject[1:end])
	kept := fields[:0]
	for _, f := range fields {
		if strings.Contains(f, "/") {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

func saveCSVReports(counter map[string]map[string]int, fields []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, field := range fields {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeHeaderName(field)))
		if err := writeCSVReport(filePath, stats.Top(counter[field], limit)); err != nil {
			return err
		}
	}
	return nil
}

func writeCSVReport(path string, rows []stats.Count) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{row.Key, strconv.Itoa(row.Count)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

func printFilterHits(patterns []string, hits map[string]int) {
	counts := make(map[string]int, len(patterns))
	for _, pattern := range patterns {
		counts[pattern] = hits[pattern]
	}
	for _, p := range stats.Top(counts, -1) {
		if p.Count > 0 {
			fmt.Printf("  ✓ %s: %d hits\n", p.Key, p.Count)
		} else {
			fmt.Printf("  ✗ %s: 0 hits\n", p.Key)
		}
	}
}

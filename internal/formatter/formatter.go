// package formatter renders queue snapshots as CSV, Markdown, JSON and plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/murmur/internal/models"
	"github.com/desertthunder/murmur/internal/shared"
)

// Format is an export format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "txt"
)

// ParseFormat accepts json, csv, markdown (or md) and txt (or text).
func ParseFormat(v string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "txt", "text":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q (want json, csv, markdown or txt)", shared.ErrInvalidArgument, v)
	}
}

// Extension returns the file extension for f.
func (f Format) Extension() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// Snapshot is everything the queue holds at one point in time.
type Snapshot struct {
	ExportedAt  time.Time            `json:"exported_at"`
	Status      models.Status        `json:"status"`
	Posts       []models.OfflinePost `json:"posts"`
	Items       []models.QueueItem   `json:"items"`
	DeadLetters []models.DeadLetter  `json:"dead_letters"`
}

func millis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return shared.FromMillis(ms).UTC().Format(time.RFC3339)
}

func writeCSV(headers []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, record := range rows {
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// PostsToCSV renders posts with columns: ID, Created, Status, Retries, Content, Media, Hashtags, ReplyTo, RemoteID, LastError
func PostsToCSV(posts []models.OfflinePost) ([]byte, error) {
	headers := []string{"ID", "Created", "Status", "Retries", "Content", "Media", "Hashtags", "ReplyTo", "RemoteID", "LastError"}
	rows := make([][]string, 0, len(posts))
	for _, p := range posts {
		rows = append(rows, []string{
			p.ID,
			millis(p.CreatedAt),
			string(p.Status),
			strconv.Itoa(p.RetryCount),
			p.Content,
			strings.Join(p.MediaURLs, " "),
			strings.Join(p.Hashtags, " "),
			p.ReplyToID,
			p.RemoteID,
			p.LastError,
		})
	}
	return writeCSV(headers, rows)
}

// ItemsToCSV renders queued operations with columns: ID, Queued, Action, Method, Endpoint, Args, Retries, NextAttempt, LastError
func ItemsToCSV(items []models.QueueItem) ([]byte, error) {
	headers := []string{"ID", "Queued", "Action", "Method", "Endpoint", "Args", "Retries", "NextAttempt", "LastError"}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.ID,
			millis(it.Timestamp),
			it.Payload.Action,
			it.Payload.HTTPMethod(),
			it.Payload.Endpoint,
			string(it.Payload.Args),
			strconv.Itoa(it.RetryCount),
			millis(it.NextAttemptAt),
			it.LastError,
		})
	}
	return writeCSV(headers, rows)
}

// DeadLettersToCSV renders dead letters with columns: ID, DeadAt, Action, Endpoint, Retries, Reason
func DeadLettersToCSV(dead []models.DeadLetter) ([]byte, error) {
	headers := []string{"ID", "DeadAt", "Action", "Endpoint", "Retries", "Reason"}
	rows := make([][]string, 0, len(dead))
	for _, d := range dead {
		rows = append(rows, []string{
			d.Item.ID,
			millis(d.DeadAt),
			d.Item.Payload.Action,
			d.Item.Payload.Endpoint,
			strconv.Itoa(d.Item.RetryCount),
			d.Reason,
		})
	}
	return writeCSV(headers, rows)
}

// SnapshotToMarkdown renders a snapshot as a Markdown report.
func SnapshotToMarkdown(snap Snapshot) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Offline queue\n\n")
	fmt.Fprintf(&buf, "**Exported**: %s\n", snap.ExportedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&buf, "**Posts**: %d (%d failed)\n", snap.Status.PostsLength, snap.Status.FailedPosts)
	fmt.Fprintf(&buf, "**Operations**: %d\n", snap.Status.QueueLength)
	fmt.Fprintf(&buf, "**Dead letters**: %d\n\n", snap.Status.DeadLetters)

	buf.WriteString("## Posts\n\n")
	if len(snap.Posts) == 0 {
		buf.WriteString("_none_\n")
	}
	for i, p := range snap.Posts {
		fmt.Fprintf(&buf, "%d. `%s` **%s** %s", i+1, p.ID, p.Status, markdownEscape(p.Content))
		if p.RetryCount > 0 {
			fmt.Fprintf(&buf, " (retries: %d)", p.RetryCount)
		}
		buf.WriteString("\n")
	}

	buf.WriteString("\n## Operations\n\n")
	if len(snap.Items) == 0 {
		buf.WriteString("_none_\n")
	}
	for i, it := range snap.Items {
		fmt.Fprintf(&buf, "%d. `%s` %s %s `%s`", i+1, it.ID, it.Payload.Action, it.Payload.HTTPMethod(), it.Payload.Endpoint)
		if it.RetryCount > 0 {
			fmt.Fprintf(&buf, " (retries: %d, last error: %s)", it.RetryCount, markdownEscape(it.LastError))
		}
		buf.WriteString("\n")
	}

	buf.WriteString("\n## Dead letters\n\n")
	if len(snap.DeadLetters) == 0 {
		buf.WriteString("_none_\n")
	}
	for i, d := range snap.DeadLetters {
		fmt.Fprintf(&buf, "%d. `%s` %s: %s\n", i+1, d.Item.ID, d.Item.Payload.Action, markdownEscape(d.Reason))
	}

	return buf.Bytes(), nil
}

// SnapshotToText renders a snapshot as plain text.
func SnapshotToText(snap Snapshot) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Offline queue exported %s\n", snap.ExportedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&buf, "%s\n\n", snap.Status)

	fmt.Fprintf(&buf, "Posts: %d\n", len(snap.Posts))
	for i, p := range snap.Posts {
		fmt.Fprintf(&buf, "%d. [%s] %s\n", i+1, p.Status, oneLine(p.Content))
	}

	fmt.Fprintf(&buf, "\nOperations: %d\n", len(snap.Items))
	for i, it := range snap.Items {
		fmt.Fprintf(&buf, "%d. %s %s %s (retries: %d)\n", i+1, it.Payload.Action, it.Payload.HTTPMethod(), it.Payload.Endpoint, it.RetryCount)
	}

	fmt.Fprintf(&buf, "\nDead letters: %d\n", len(snap.DeadLetters))
	for i, d := range snap.DeadLetters {
		fmt.Fprintf(&buf, "%d. %s: %s\n", i+1, d.Item.Payload.Action, oneLine(d.Reason))
	}

	return buf.Bytes(), nil
}

// ToJSON renders v as indented JSON.
func ToJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return append(data, '\n'), nil
}

// Render renders the whole snapshot in format f. CSV renders the collection named by part.
func Render(snap Snapshot, f Format, part string) ([]byte, error) {
	switch f {
	case FormatJSON:
		return ToJSON(snap)
	case FormatMarkdown:
		return SnapshotToMarkdown(snap)
	case FormatText:
		return SnapshotToText(snap)
	case FormatCSV:
		switch part {
		case "posts":
			return PostsToCSV(snap.Posts)
		case "items", "":
			return ItemsToCSV(snap.Items)
		case "dead":
			return DeadLettersToCSV(snap.DeadLetters)
		default:
			return nil, fmt.Errorf("%w: unknown collection %q", shared.ErrInvalidArgument, part)
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, f)
	}
}

// WriteFile renders snap in format f to path, creating parent directories.
func WriteFile(snap Snapshot, f Format, part, path string) error {
	data, err := Render(snap, f, part)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func markdownEscape(s string) string {
	r := strings.NewReplacer("*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`)
	return r.Replace(oneLine(s))
}

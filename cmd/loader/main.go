package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/threadsight/threadsight/internal/domain/service"
)

// loader replays a tabular support-conversation export (twcs.csv layout) into
// the ingest API, one bulk request per chunk.

type csvRow struct {
	TweetID       string
	AuthorID      string
	Inbound       string
	CreatedAt     string
	Text          string
	InResponseTo  string
	parsedCreated *time.Time
}

type messageJSON struct {
	TweetID      string `json:"tweet_id"`
	AuthorID     string `json:"author_id"`
	Text         string `json:"text"`
	Inbound      string `json:"inbound"`
	CreatedAtRaw string `json:"created_at_raw"`
	InReplyToID  string `json:"in_reply_to_id,omitempty"`
}

type conversationJSON struct {
	Messages []messageJSON `json:"messages"`
}

type bulkRequest struct {
	Conversations []conversationJSON `json:"conversations"`
}

type bulkResponse struct {
	Accepted     int  `json:"accepted"`
	Rejected     int  `json:"rejected"`
	Backpressure bool `json:"backpressure"`
}

var (
	flagCSV     string
	flagBaseURL string
	flagLimit   int
	flagChunk   int
	flagDryRun  bool
)

func main() {
	root := &cobra.Command{
		Use:   "loader",
		Short: "Load a tabular conversation export into the insights service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	root.Flags().StringVar(&flagCSV, "csv", "twcs.csv", "path to the CSV export")
	root.Flags().StringVar(&flagBaseURL, "base-url", "http://localhost:8000", "service base URL")
	root.Flags().IntVar(&flagLimit, "limit", 0, "max conversations to load (0 = all)")
	root.Flags().IntVar(&flagChunk, "chunk", 500, "conversations per bulk request")
	root.Flags().BoolVar(&flagDryRun, "dry-run", false, "group and count without posting")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	rows, err := readCSV(flagCSV)
	if err != nil {
		return err
	}
	fmt.Printf("read %d rows\n", len(rows))

	conversations := groupConversations(rows)
	if flagLimit > 0 && len(conversations) > flagLimit {
		conversations = conversations[:flagLimit]
	}
	fmt.Printf("grouped into %d conversations\n", len(conversations))

	if flagDryRun {
		return nil
	}
	return postChunks(conversations)
}

func readCSV(path string) ([]*csvRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"tweet_id", "text"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	field := func(record []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	var rows []*csvRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := &csvRow{
			TweetID:      field(record, "tweet_id"),
			AuthorID:     field(record, "author_id"),
			Inbound:      field(record, "inbound"),
			CreatedAt:    field(record, "created_at"),
			Text:         field(record, "text"),
			InResponseTo: field(record, "in_response_to_tweet_id"),
		}
		if row.TweetID == "" {
			continue
		}
		row.parsedCreated = service.ParseTabularTime(row.CreatedAt)
		rows = append(rows, row)
	}
	return rows, nil
}

// groupConversations buckets rows by thread root, following reply-parent
// chains. A visited set guards against reference cycles in dirty exports.
func groupConversations(rows []*csvRow) []conversationJSON {
	byID := make(map[string]*csvRow, len(rows))
	for _, row := range rows {
		byID[row.TweetID] = row
	}

	rootOf := func(row *csvRow) string {
		visited := map[string]struct{}{row.TweetID: {}}
		current := row
		for current.InResponseTo != "" {
			parent, ok := byID[current.InResponseTo]
			if !ok {
				break
			}
			if _, seen := visited[parent.TweetID]; seen {
				break
			}
			visited[parent.TweetID] = struct{}{}
			current = parent
		}
		return current.TweetID
	}

	groups := make(map[string][]*csvRow)
	var order []string
	for _, row := range rows {
		root := rootOf(row)
		if _, seen := groups[root]; !seen {
			order = append(order, root)
		}
		groups[root] = append(groups[root], row)
	}

	conversations := make([]conversationJSON, 0, len(order))
	for _, root := range order {
		group := groups[root]
		sort.SliceStable(group, func(i, j int) bool {
			a, b := group[i], group[j]
			switch {
			case a.parsedCreated != nil && b.parsedCreated != nil && !a.parsedCreated.Equal(*b.parsedCreated):
				return a.parsedCreated.Before(*b.parsedCreated)
			case a.parsedCreated == nil && b.parsedCreated != nil:
				return false
			case a.parsedCreated != nil && b.parsedCreated == nil:
				return true
			}
			return a.TweetID < b.TweetID
		})

		msgs := make([]messageJSON, 0, len(group))
		for _, row := range group {
			msgs = append(msgs, messageJSON{
				TweetID:      row.TweetID,
				AuthorID:     row.AuthorID,
				Text:         row.Text,
				Inbound:      row.Inbound,
				CreatedAtRaw: row.CreatedAt,
				InReplyToID:  row.InResponseTo,
			})
		}
		conversations = append(conversations, conversationJSON{Messages: msgs})
	}
	return conversations
}

func postChunks(conversations []conversationJSON) error {
	client := &http.Client{Timeout: 120 * time.Second}
	url := flagBaseURL + "/api/v1/conversations/bulk"

	totalAccepted, totalRejected := 0, 0
	for start := 0; start < len(conversations); start += flagChunk {
		end := start + flagChunk
		if end > len(conversations) {
			end = len(conversations)
		}

		body, err := json.Marshal(bulkRequest{Conversations: conversations[start:end]})
		if err != nil {
			return err
		}
		resp, err := client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("post chunk %d-%d: %w", start, end, err)
		}
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusMultiStatus {
			return fmt.Errorf("chunk %d-%d: status %d: %s", start, end, resp.StatusCode, respBody)
		}

		var result bulkResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			return fmt.Errorf("chunk %d-%d: parse response: %w", start, end, err)
		}
		totalAccepted += result.Accepted
		totalRejected += result.Rejected
		fmt.Printf("chunk %d-%d: accepted=%d rejected=%d backpressure=%v\n",
			start, end, result.Accepted, result.Rejected, result.Backpressure)

		if result.Backpressure {
			fmt.Println("queue backpressure reported, pausing 5s")
			time.Sleep(5 * time.Second)
		}
	}
	fmt.Printf("done: accepted=%d rejected=%d\n", totalAccepted, totalRejected)
	return nil
}

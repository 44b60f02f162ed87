// Package fetcher downloads public campaign snapshots and converts them
// into records.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"campaign_watch/internal/model"
)

const maxBody = 5 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Row is one campaign in a published snapshot.
type Row struct {
	CSQ               string `json:"csq"`
	Title             string `json:"title"`
	Review            string `json:"review"`
	Mall              string `json:"mall"`
	Price             string `json:"price"`
	Point             string `json:"point"`
	Type              string `json:"type"`
	ParticipationTime string `json:"participation_time"`
	URL               string `json:"url"`
	Keyword           string `json:"keyword,omitempty"`
}

// Record converts the row into a domain record.
func (r Row) Record() model.Record {
	return model.Record{
		Category:          r.Type,
		Review:            r.Review,
		Mall:              r.Mall,
		Price:             r.Price,
		Point:             r.Point,
		ParticipationTime: r.ParticipationTime,
		Title:             r.Title,
		URL:               r.URL,
	}
}

// Records converts rows into records, skipping rows without a csq in
// their URL.
func Records(rows []Row) []model.Record {
	var out []model.Record
	for _, r := range rows {
		rec := r.Record()
		if rec.CSQ() == "" {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Fetcher downloads campaign snapshots.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:  client,
		timeout: 30 * time.Second,
	}
}

// Fetch downloads a JSON snapshot from url.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]Row, error) {
	body, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var rows []Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return rows, nil
}

// FetchPage downloads a campaign listing page from url and parses it with
// ParseHTML.
func (f *Fetcher) FetchPage(ctx context.Context, url, site string) ([]Row, error) {
	body, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	return ParseHTML(bytes.NewReader(body), site)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "CampaignWatch/1.0")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

var (
	pricePattern  = regexp.MustCompile(`[\d,]+원`)
	reviewPattern = regexp.MustCompile(`\d+\s*/\s*\d+`)
)

const dataTimeLayout = "2006-01-02 15:04:05"

// DetailURL returns the campaign page of csq on site.
func DetailURL(site, csq string) string {
	return fmt.Sprintf("https://%s.shopreview.co.kr/usr/campaign_detail?csq=%s", site, csq)
}

// ParseHTML extracts campaigns from a listing page of site. Items missing
// a csq or a valid data-time are skipped.
func ParseHTML(r io.Reader, site string) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var rows []Row
	doc.Find("div.review_item").Each(func(_ int, item *goquery.Selection) {
		row, ok := parseItem(item, site)
		if ok {
			rows = append(rows, row)
		}
	})
	return rows, nil
}

func parseItem(item *goquery.Selection, site string) (Row, bool) {
	csq, _ := item.Attr("data-csq")
	rawTime, _ := item.Attr("data-time")
	if csq == "" {
		return Row{}, false
	}
	t, err := time.Parse(dataTimeLayout, rawTime)
	if err != nil {
		return Row{}, false
	}

	title := text(item.Find("p span.ctooltip").First())

	point := text(item.Find(".join_point_box").First())
	if point == "" {
		point = text(item.Find(".point_box").First())
	}
	point = strings.ReplaceAll(strings.TrimLeft(point, "+ "), " ", "")

	price := pricePattern.FindString(strings.Join(strings.Fields(item.Find("span.h6").First().Text()), " "))

	var review string
	boxes := item.Find("div.row > div.col-6 div:nth-of-type(2)")
	if boxes.Length() > 0 {
		if m := reviewPattern.FindString(text(boxes.Eq(0))); m != "" {
			review = "오늘 " + strings.ReplaceAll(m, " ", "")
		}
	}
	if boxes.Length() > 1 {
		if m := reviewPattern.FindString(text(boxes.Eq(1))); m != "" {
			review += ", 전체 " + strings.ReplaceAll(m, " ", "")
		}
	}

	keyword := []rune(title)
	if len(keyword) > 15 {
		keyword = keyword[:15]
	}

	return Row{
		CSQ:               csq,
		Title:             title,
		Review:            review,
		Mall:              text(item.Find(".store span.text-black").First()),
		Price:             price,
		Point:             point,
		Type:              text(item.Find(".type_box").First()),
		ParticipationTime: FormatTime(t),
		URL:               DetailURL(site, csq),
		Keyword:           string(keyword),
	}, true
}

// FormatTime renders t in the participation format "07월 15일 09시 00분".
func FormatTime(t time.Time) string {
	return t.Format("01월 02일 15시 04분")
}

func text(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}

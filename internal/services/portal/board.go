package portal

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/atozbot/internal/models"
)

// Board column positions within td.table__data
const (
	colRef = iota
	colSubmitted
	colApptDate
	colApptTime
	colDuration
	colLanguage
	colStatus
	minBoardCells
)

// ParseBoard extracts job rows from the board page HTML, in board order.
// An empty board yields an empty slice and no error.
func ParseBoard(html, baseURL string, scrapedAt time.Time) ([]models.JobRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse board html: %w", err)
	}

	if strings.Contains(doc.Text(), emptyBoardText) {
		return []models.JobRecord{}, nil
	}

	base, _ := url.Parse(baseURL)
	jobs := make([]models.JobRecord, 0)

	doc.Find(selBoardRows).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find(selBoardCells)
		if cells.Length() < minBoardCells {
			return
		}
		cell := func(i int) string {
			return cleanText(cells.Eq(i).Text())
		}

		job := models.JobRecord{
			Ref:        cell(colRef),
			Submitted:  cell(colSubmitted),
			ApptDate:   cell(colApptDate),
			ApptTime:   cell(colApptTime),
			Duration:   cell(colDuration),
			Language:   cell(colLanguage),
			StatusText: cell(colStatus),
			ScrapedAt:  scrapedAt,
		}

		if typeCell := row.Find(selTypeCell); typeCell.Length() > 0 {
			job.JobType = cleanText(typeCell.First().Text())
		} else {
			job.JobType = inferJobType(row.Text())
		}

		if href, ok := row.Find(selDetailLink).First().Attr("href"); ok {
			job.DetailURL = resolveURL(base, href)
		}

		jobs = append(jobs, job)
	})

	return jobs, nil
}

// DetailText returns the visible text of a detail page, whitespace collapsed
func DetailText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse detail html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	main := doc.Find("main, .content, section.content").First()
	if main.Length() == 0 {
		main = doc.Find("body")
	}
	return cleanText(main.Text()), nil
}

// inferJobType labels a row from its text when the board has no type column.
// "remote" alone is ambiguous and left blank so the detail page decides.
func inferJobType(rowText string) string {
	text := strings.ToLower(strings.ReplaceAll(rowText, "-", " "))
	switch {
	case strings.Contains(text, "face to face"), strings.Contains(text, "in person"), strings.Contains(text, "onsite"):
		return "Face to Face interpreting"
	case strings.Contains(text, "telephone"), strings.Contains(text, "phone"):
		return "Telephone interpreting"
	case strings.Contains(text, "video"):
		return "Video interpreting"
	}
	return ""
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// extractScript reads the page without mutating it. Absent values come back
// as null and are replaced with placeholders by normalize.
const extractScript = `(() => {
  const h1 = document.querySelector('h1');
  const meta = document.querySelector('meta[name="description"]');
  return {
    url: window.location.href,
    title: document.title,
    heading: h1 ? h1.innerText : null,
    metaDescription: meta ? (meta.getAttribute('content') ?? '') : null,
    links: Array.from(document.querySelectorAll('a')).slice(0, 10).map(a => ({
      text: a.innerText,
      href: a.href
    }))
  };
})()`

type rawLink struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

type rawPage struct {
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	Heading         *string   `json:"heading"`
	MetaDescription *string   `json:"metaDescription"`
	Links           []rawLink `json:"links"`
}

func extract(ctx context.Context, session Session, now func() time.Time) (Page, error) {
	var raw rawPage
	if err := session.Evaluate(ctx, extractScript, &raw); err != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	return normalize(raw, now()), nil
}

func normalize(raw rawPage, at time.Time) Page {
	page := Page{
		URL:             raw.URL,
		Title:           raw.Title,
		Heading:         PlaceholderHeading,
		MetaDescription: PlaceholderMetaDescription,
		Links:           make([]Link, 0, min(len(raw.Links), MaxLinks)),
		Timestamp:       formatTimestamp(at),
	}
	if page.Title == "" {
		page.Title = PlaceholderTitle
	}
	if raw.Heading != nil {
		page.Heading = *raw.Heading
	}
	if raw.MetaDescription != nil {
		page.MetaDescription = *raw.MetaDescription
	}
	for _, l := range raw.Links {
		if len(page.Links) == MaxLinks {
			break
		}
		link := Link{
			Text: strings.TrimSpace(l.Text),
			Href: l.Href,
		}
		if link.Text == "" {
			link.Text = PlaceholderLinkText
		}
		if link.Href == "" {
			link.Href = PlaceholderLinkHref
		}
		page.Links = append(page.Links, link)
	}
	return page
}

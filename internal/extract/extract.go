// Package extract locates listing containers in raw markup and pulls field
// values out of them according to per-field selector candidate chains.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Match is the outcome of evaluating one field's selector chain.
// Absent is a normal outcome, not an error; the executor decides whether
// the field was required.
type Match struct {
	Value string
	Ok    bool
}

// Absent is the zero Match, returned when no candidate selector hits.
var Absent = Match{}

// Matched wraps a non-empty extracted value.
func Matched(v string) Match { return Match{Value: v, Ok: true} }

// containerFallbacks are tried in order when a job configures no container
// selector. They cover the class names listing sites commonly use.
var containerFallbacks = []string{
	".property-item",
	".listing-item",
	".property-card",
	".property",
	"[data-testid*='property']",
}

// Containers returns the per-listing root elements of the document: the
// configured container selector if set, otherwise the first fallback
// selector that matches, otherwise repeated siblings sharing a class/tag
// signature, otherwise the whole document as a single container.
func Containers(doc *goquery.Document, configured string) []*goquery.Selection {
	if configured != "" {
		return collect(doc.Find(configured))
	}
	for _, sel := range containerFallbacks {
		if found := doc.Find(sel); found.Length() > 0 {
			return collect(found)
		}
	}
	if sibs := repeatedSiblings(doc); len(sibs) > 1 {
		return sibs
	}
	return []*goquery.Selection{doc.Selection}
}

// repeatedSiblings looks for the largest group of same-parent elements
// sharing a tag+class signature. Listing grids are usually exactly that.
func repeatedSiblings(doc *goquery.Document) []*goquery.Selection {
	type group struct {
		sig   string
		nodes []*goquery.Selection
	}
	var best group
	doc.Find("body *").Each(func(_ int, parent *goquery.Selection) {
		byType := map[string][]*goquery.Selection{}
		parent.Children().Each(func(_ int, child *goquery.Selection) {
			sig := signature(child)
			if sig == "" {
				return
			}
			byType[sig] = append(byType[sig], child)
		})
		for sig, nodes := range byType {
			if len(nodes) > len(best.nodes) {
				best = group{sig: sig, nodes: nodes}
			}
		}
	})
	if len(best.nodes) < 3 {
		return nil
	}
	return best.nodes
}

func signature(s *goquery.Selection) string {
	tag := goquery.NodeName(s)
	if tag == "" || tag == "#text" || tag == "script" || tag == "style" {
		return ""
	}
	class, _ := s.Attr("class")
	class = strings.Join(strings.Fields(class), ".")
	if class == "" {
		// bare repeated tags (li, tr) are too generic to trust alone
		if tag != "li" && tag != "tr" && tag != "article" {
			return ""
		}
	}
	return tag + "." + class
}

// Fields evaluates each configured field chain against one container.
func Fields(container *goquery.Selection, chains map[string][]string) map[string]Match {
	out := make(map[string]Match, len(chains))
	for field, candidates := range chains {
		out[field] = Chain(container, candidates)
	}
	return out
}

// Chain tries selector candidates in declared order; the first candidate
// yielding a non-empty value wins.
func Chain(container *goquery.Selection, candidates []string) Match {
	for _, candidate := range candidates {
		if m := one(container, candidate); m.Ok {
			return m
		}
	}
	return Absent
}

// one evaluates a single candidate. "sel@attr" reads an attribute off the
// first element matching sel; a bare selector reads its text. A candidate
// of just "@attr" reads the attribute off the container itself.
func one(container *goquery.Selection, candidate string) Match {
	sel, attr := splitAttr(candidate)

	target := container
	if sel != "" {
		target = container.Find(sel).First()
		if target.Length() == 0 {
			return Absent
		}
	}

	var raw string
	if attr != "" {
		raw, _ = target.Attr(attr)
	} else {
		raw = target.Text()
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Absent
	}
	return Matched(raw)
}

func splitAttr(candidate string) (sel, attr string) {
	if i := strings.LastIndex(candidate, "@"); i >= 0 {
		return strings.TrimSpace(candidate[:i]), strings.TrimSpace(candidate[i+1:])
	}
	return strings.TrimSpace(candidate), ""
}

func collect(s *goquery.Selection) []*goquery.Selection {
	out := make([]*goquery.Selection, 0, s.Length())
	s.Each(func(_ int, node *goquery.Selection) {
		out = append(out, node)
	})
	return out
}

package search

import "fmt"

// PageSrc is a slice [First:Last] of provider page Page.
type PageSrc struct {
	Page  int
	First int
	Last  int
}

// GetResPages returns the provider pages (of size resPageSize) that cover
// feed page srcPage when feed pages hold srcPageSize items.
func GetResPages(srcPage int, srcPageSize int, resPageSize int) []PageSrc {
	if srcPage < 1 {
		srcPage = 1
	}
	var startOffset = (srcPage - 1) * srcPageSize
	var endOffset = startOffset + srcPageSize
	var firstPage = 1 + (startOffset / resPageSize)
	var first = (firstPage - 1) * resPageSize
	var last = first + resPageSize
	pages := []PageSrc{{
		Page:  firstPage,
		First: startOffset - first,
		Last:  min(resPageSize, endOffset-first),
	}}
	for last < endOffset {
		remain := endOffset - (last / resPageSize * resPageSize)
		last += resPageSize
		lastPage := last / resPageSize
		pages = append(pages, PageSrc{
			Page:  lastPage,
			First: 0,
			Last:  min(resPageSize, remain),
		})
	}
	return pages
}

func (p *PageSrc) String() string {
	return fmt.Sprintf("#%d [%d:%d]", p.Page, p.First, p.Last)
}

package search

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

type PexelsPhoto struct {
	Id              int            `json:"id"`
	Width           int            `json:"width"`
	Height          int            `json:"height"`
	Url             string         `json:"url"`
	Alt             string         `json:"alt"`
	Photographer    string         `json:"photographer"`
	PhotographerUrl string         `json:"photographer_url"`
	Src             PexelsPhotoSrc `json:"src"`
}

type PexelsPhotoSrc struct {
	Original string `json:"original"`
	Large2x  string `json:"large2x"`
	Large    string `json:"large"`
}

type PexelsSearchResult struct {
	TotalResults int           `json:"total_results"`
	Page         int           `json:"page"`
	PerPage      int           `json:"per_page"`
	Photos       []PexelsPhoto `json:"photos"`
}

type PexelsApi struct {
	provider
}

func NewPexelsApi(cfg ProviderConfig, batch int, cache *ReqCache, log *zap.Logger) *PexelsApi {
	if cfg.PerPage > 80 {
		cfg.PerPage = 80
	}
	return &PexelsApi{
		provider: newProvider(SourcePexels, cfg, "https://api.pexels.com/v1/search", batch, cache, log),
	}
}

func (api *PexelsApi) Search(ctx context.Context, page int, query string) []ImageResult {
	return api.search(ctx, page, query, func(ctx context.Context, page int) ([]ImageResult, error) {
		qParam := url.Values{}
		qParam.Add("query", query)
		qParam.Add("page", strconv.Itoa(page))
		qParam.Add("per_page", strconv.Itoa(api.PageSize()))
		qParam.Add("orientation", "landscape")
		header := http.Header{}
		header.Set("Authorization", api.apiKey)

		data := PexelsSearchResult{}
		if err := api.getJSON(ctx, api.baseUrl+"?"+qParam.Encode(), header, &data); err != nil {
			return nil, err
		}
		output := make([]ImageResult, len(data.Photos))
		for i, el := range data.Photos {
			output[i].ID = "pexels/" + strconv.Itoa(el.Id)
			output[i].Source = SourcePexels
			output[i].URL = firstNonEmpty(el.Src.Large2x, el.Src.Large, el.Src.Original)
			output[i].AltText = plainText(el.Alt)
			output[i].AttributionName = plainText(el.Photographer)
			output[i].AttributionURL = firstNonEmpty(el.PhotographerUrl, el.Url)
			output[i].Width = el.Width
			output[i].Height = el.Height
		}
		return output, nil
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

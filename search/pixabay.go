package search

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

type PixabaySearchItem struct {
	Id            int    `json:"id"`
	Tags          string `json:"tags"`
	WebFormatUrl  string `json:"webformatURL"`
	LargeImageUrl string `json:"largeImageURL"`
	ImageWidth    int    `json:"imageWidth"`
	ImageHeight   int    `json:"imageHeight"`
	UserId        int    `json:"user_id"`
	User          string `json:"user"`
	PageUrl       string `json:"pageURL"`
}

type PixabaySearchResult struct {
	Total     int                 `json:"total"`
	TotalHits int                 `json:"totalHits"`
	Hits      []PixabaySearchItem `json:"hits"`
}

type PixabayApi struct {
	provider
}

func NewPixabayApi(cfg ProviderConfig, batch int, cache *ReqCache, log *zap.Logger) *PixabayApi {
	// per_page must stay within [3, 200]
	if cfg.PerPage > 200 {
		cfg.PerPage = 200
	}
	api := &PixabayApi{
		provider: newProvider(SourcePixabay, cfg, "https://pixabay.com/api/", batch, cache, log),
	}
	if api.perPage < 3 {
		api.perPage = 3
	}
	return api
}

func (api *PixabayApi) Search(ctx context.Context, page int, query string) []ImageResult {
	return api.search(ctx, page, query, func(ctx context.Context, page int) ([]ImageResult, error) {
		qParam := url.Values{}
		qParam.Add("key", api.apiKey)
		qParam.Add("q", query)
		qParam.Add("page", strconv.Itoa(page))
		qParam.Add("per_page", strconv.Itoa(api.PageSize()))
		qParam.Add("orientation", "horizontal")
		qParam.Add("image_type", "photo")
		qParam.Add("safesearch", "true")

		data := PixabaySearchResult{}
		if err := api.getJSON(ctx, api.baseUrl+"?"+qParam.Encode(), nil, &data); err != nil {
			return nil, err
		}
		output := make([]ImageResult, len(data.Hits))
		for i, el := range data.Hits {
			output[i].ID = "pixabay/" + strconv.Itoa(el.Id)
			output[i].Source = SourcePixabay
			output[i].URL = firstNonEmpty(el.LargeImageUrl, el.WebFormatUrl)
			output[i].AltText = plainText(el.Tags)
			output[i].AttributionName = plainText(el.User)
			output[i].AttributionURL = pixabayUserUrl(el)
			output[i].Width = el.ImageWidth
			output[i].Height = el.ImageHeight
		}
		return output, nil
	})
}

func pixabayUserUrl(el PixabaySearchItem) string {
	if el.User == "" || el.UserId == 0 {
		return el.PageUrl
	}
	return fmt.Sprintf("https://pixabay.com/users/%s-%d/", url.PathEscape(el.User), el.UserId)
}

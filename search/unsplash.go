package search

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

type UnsplashPhoto struct {
	Id             string             `json:"id"`
	Width          int                `json:"width"`
	Height         int                `json:"height"`
	Description    string             `json:"description"`
	AltDescription string             `json:"alt_description"`
	User           UnsplashUser       `json:"user"`
	Urls           UnsplashUrls       `json:"urls"`
	Links          UnsplashPhotoLinks `json:"links"`
}

type UnsplashUser struct {
	Id       string            `json:"id"`
	Username string            `json:"username"`
	Name     string            `json:"name"`
	Links    UnsplashUserLinks `json:"links"`
}

type UnsplashPhotoLinks struct {
	Self     string `json:"self"`
	Html     string `json:"html"`
	Download string `json:"download"`
}

type UnsplashUserLinks struct {
	Self   string `json:"self"`
	Html   string `json:"html"`
	Photos string `json:"photos"`
}

type UnsplashUrls struct {
	Regular string `json:"regular"`
	Full    string `json:"full"`
	Raw     string `json:"raw"`
}

type UnsplashSearchResult struct {
	Total      int             `json:"total"`
	TotalPages int             `json:"total_pages"`
	Results    []UnsplashPhoto `json:"results"`
}

type UnsplashApi struct {
	provider
}

func NewUnsplashApi(cfg ProviderConfig, batch int, cache *ReqCache, log *zap.Logger) *UnsplashApi {
	if cfg.PerPage > 30 {
		cfg.PerPage = 30
	}
	return &UnsplashApi{
		provider: newProvider(SourceUnsplash, cfg, "https://api.unsplash.com/search/photos", batch, cache, log),
	}
}

func (unsp *UnsplashApi) Search(ctx context.Context, page int, query string) []ImageResult {
	return unsp.search(ctx, page, query, func(ctx context.Context, page int) ([]ImageResult, error) {
		qParam := url.Values{}
		qParam.Add("query", query)
		qParam.Add("page", strconv.Itoa(page))
		qParam.Add("per_page", strconv.Itoa(unsp.PageSize()))
		qParam.Add("orientation", "landscape")
		header := http.Header{}
		header.Set("Accept-Version", "v1")
		header.Set("Authorization", "Client-ID "+unsp.apiKey)

		data := UnsplashSearchResult{}
		if err := unsp.getJSON(ctx, unsp.baseUrl+"?"+qParam.Encode(), header, &data); err != nil {
			return nil, err
		}
		output := make([]ImageResult, len(data.Results))
		for i, el := range data.Results {
			output[i].ID = "unsplash/" + el.Id
			output[i].Source = SourceUnsplash
			output[i].URL = firstNonEmpty(el.Urls.Regular, el.Urls.Full)
			output[i].AltText = plainText(firstNonEmpty(el.AltDescription, el.Description))
			output[i].AttributionName = plainText(firstNonEmpty(el.User.Name, el.User.Username))
			output[i].AttributionURL = firstNonEmpty(el.User.Links.Html, el.Links.Html)
			output[i].Width = el.Width
			output[i].Height = el.Height
		}
		return output, nil
	})
}

package http

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	c "github.com/d0ngw/counters/common"
	"github.com/pkg/errors"
)

// Resp JSON Http响应
type Resp struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Msg     string      `json:"msg"`
}

// RenderJSON 渲染JSON
func RenderJSON(w http.ResponseWriter, status int, jsonData interface{}) {
	data, err := c.JSON.Marshal(jsonData)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// RenderText 渲染Text
func RenderText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(text))
}

// GetURL 请求URL,返回状态码和body
func GetURL(client *http.Client, rawURL string, params url.Values) (int, string, error) {
	if params != nil {
		rawURL = rawURL + "?" + params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, "", errors.WithStack(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", errors.WithStack(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", errors.WithStack(err)
	}
	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}

// Package provider получает снимки кошельков у внешнего провайдера данных.
package provider

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// HTTPClientConfig - параметры HTTP клиента для внешних API
type HTTPClientConfig struct {
	ConnectTimeout      time.Duration // установка TCP соединения (default: 5s)
	ResponseTimeout     time.Duration // ожидание заголовков ответа (default: 15s)
	TotalTimeout        time.Duration // вся операция (default: 30s)
	MaxIdleConnsPerHost int           // default: 10
	IdleConnTimeout     time.Duration // default: 90s
	TLSHandshakeTimeout time.Duration // default: 5s
}

// DefaultHTTPClientConfig возвращает конфигурацию по умолчанию
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:      5 * time.Second,
		ResponseTimeout:     15 * time.Second,
		TotalTimeout:        30 * time.Second,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
}

// NewHTTPClient создает клиент с пулом соединений и таймаутами.
// Используется провайдером снимков и каналами уведомлений.
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.TotalTimeout,
	}
}

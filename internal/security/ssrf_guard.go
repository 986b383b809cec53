// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
	"golang.org/x/net/proxy"
)

// ClientOptions は外部API用HTTPクライアントの生成オプション。
type ClientOptions struct {
	// Timeout はリクエスト全体のタイムアウト。
	Timeout time.Duration
	// ProxyURL はプロキシのURL（http, https, socks5, socks5h）。空の場合は直接接続。
	ProxyURL string
	// SafeDial が true の場合、直接接続時にプライベートIP等への接続をブロックする。
	SafeDial bool
}

// NewHTTPClient はオプションに応じたHTTPクライアントを生成する。
// プロキシ指定時はプロキシ経由のクライアントを、SafeDial指定時はsafeurlで
// 保護されたクライアントを返す。プロキシ経由の場合、接続先IPの検証はプロキシ側に委ねられる。
func NewHTTPClient(opts ClientOptions) (*http.Client, error) {
	if opts.ProxyURL != "" {
		return NewProxyClient(opts.ProxyURL, opts.Timeout)
	}
	if opts.SafeDial {
		return NewSafeClient(opts.Timeout), nil
	}
	return &http.Client{Timeout: opts.Timeout}, nil
}

// allowedSchemes は許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks は接続先としてブロックされるネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック (RFC 1122)
		"127.0.0.0/8",
		// リンクローカル (RFC 3927) - クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		// カレントネットワーク
		"0.0.0.0/8",
		// IPv6ループバック
		"::1/128",
		// IPv6リンクローカル
		"fe80::/10",
		// IPv6ユニークローカル
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// NewSafeClient はsafeurlで保護されたHTTPクライアントを生成する。
// プライベートIP、ループバック、リンクローカル、メタデータIPへの接続は
// DNS解決後のIPアドレスに対してDialerレベルでブロックされる。
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	wrappedClient := safeurl.Client(config)
	return wrappedClient.Client
}

// NewProxyClient はプロキシ経由で接続するHTTPクライアントを生成する。
// http/httpsプロキシは標準のTransport.Proxyで、socks5/socks5hは
// golang.org/x/net/proxyのDialerで接続する。
func NewProxyClient(rawURL string, timeout time.Duration) (*http.Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("empty host in proxy URL: %s", rawURL)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create proxy dialer: %w", err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", u.Scheme)
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// ValidateURL はURLの安全性を事前に検証する。
// DNS解決を伴わない静的な検証で、起動時にAPIベースURLの設定ミスを検出するために使う。
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

// isAllowedScheme はURLスキームが許可リストに含まれるかを検証する。
func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

// isBlockedIP はIPアドレスがブロック対象のネットワーク範囲に含まれるかを検証する。
func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

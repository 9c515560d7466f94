package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"github.com/LubyRuffy/rproxypool/api"
	"github.com/LubyRuffy/rproxypool/checkproxy"
	"github.com/LubyRuffy/rproxypool/config"
	"github.com/LubyRuffy/rproxypool/consumer"
	"github.com/LubyRuffy/rproxypool/logger"
	"github.com/LubyRuffy/rproxypool/manager"
	"github.com/LubyRuffy/rproxypool/models"
	"github.com/LubyRuffy/rproxypool/pool"
	"github.com/LubyRuffy/rproxypool/utils"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

const ipURL = "http://httpbin.org/ip"

func main() {
	configFile := pflag.String("config", config.DefaultFile, "ini config file, created with defaults when missing")
	mode := pflag.String("mode", "serve", "serve, http or browser")
	sessions := pflag.Int("sessions", 1, "how many browser sessions to launch in browser mode")
	config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	cfg, err := config.Load(*configFile, pflag.CommandLine)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config failed:", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)
	log.Info().Str("version", api.Version).Str("config", cfg.File).Msg("starting")

	if _, err = utils.RaiseFileLimit(utils.DefaultFileLimit); err != nil {
		log.Warn().Err(err).Msg("raise file limit failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 连接数据库
	db, err := models.Open(cfg.DBFile+models.DSNOptions, cfg.DebugDBSQL)
	if err != nil {
		log.Warn().Err(err).Msg("connect db failed, check logs disabled")
		db = nil
	} else {
		db.LogError = cfg.LogError
		defer db.Close()
	}

	m := manager.New(cfg, pool.NewFileStore(cfg.ProxyFile), checkproxy.NewHTTPProber(), db)
	if err = m.Start(ctx); err != nil {
		log.Fatal().Err(err).Str("proxy_file", cfg.ProxyFile).Msg("load proxy pool failed")
	}
	defer m.Stop()

	switch strings.ToLower(*mode) {
	case "serve":
		err = serve(ctx, m, cfg.Addr)
	case "http", "http_client":
		err = runHTTPClient(ctx, m)
	case "browser":
		err = runBrowser(ctx, m, cfg.BrowserBinaryPath, *sessions)
	default:
		err = fmt.Errorf("unknown mode: %s", *mode)
	}
	if err != nil {
		log.Error().Err(err).Msg("exit")
		m.Stop()
		os.Exit(1)
	}
}

func serve(ctx context.Context, m *manager.Manager, addr string) error {
	s := api.New(m)
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	if err := s.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// runHTTPClient 通过代理请求5次，输出看到的ip
func runHTTPClient(ctx context.Context, m *manager.Manager) error {
	for i := 0; i < 5; i++ {
		p, err := m.Next()
		if err != nil {
			return err
		}
		fmt.Printf("\n[HTTP %d] Using proxy: %s\n", i+1, p)

		client, err := consumer.HTTPClient(p, 10*time.Second)
		if err != nil {
			return err
		}
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ipURL, nil)
		resp, err := client.Do(req)
		if err != nil {
			fmt.Println("[ERROR] Request failed:", err)
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "application/json") {
				fmt.Println("IP Response:", strings.TrimSpace(string(body)))
			} else {
				if len(body) > 200 {
					body = body[:200]
				}
				fmt.Println("[WARNING] Response not JSON. Content-Type:", ct)
				fmt.Println("Response text:", string(body))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil
}

// runBrowser 启动多个浏览器，按回车之后全部关闭
func runBrowser(ctx context.Context, m *manager.Manager, bin string, n int) error {
	if n <= 0 {
		return fmt.Errorf("invalid number of sessions: %d", n)
	}

	var list []*consumer.BrowserSession
	defer func() {
		for _, s := range list {
			s.Close()
		}
	}()

	for i := 0; i < n; i++ {
		fmt.Printf("\n[SESSION %d/%d] Starting browser...\n", i+1, n)
		p, err := m.Next()
		if err != nil {
			return err
		}
		s, err := consumer.LaunchBrowser(ctx, p, consumer.BrowserOptions{Bin: bin})
		if err != nil {
			fmt.Println("[ERROR] Failed to launch browser:", err)
			continue
		}
		list = append(list, s)
		if _, err = s.Open(ipURL); err != nil {
			fmt.Println("[ERROR] Failed to open page:", err)
		}
		time.Sleep(2 * time.Second)
	}

	fmt.Println("Browsers launched. You may now browse manually. Press Enter to close the browsers...")
	done := make(chan struct{})
	go func() {
		bufio.NewReader(os.Stdin).ReadString('\n')
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}

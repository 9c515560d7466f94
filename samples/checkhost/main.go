package main

import (
	"context"
	"fmt"
	"github.com/LubyRuffy/rproxypool/checkproxy"
	"github.com/LubyRuffy/rproxypool/logger"
	"github.com/LubyRuffy/rproxypool/pool"
	"github.com/LubyRuffy/rproxypool/proxyurl"
	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"os"
	"sync"
)

/*
只检查，不修改代理列表文件，可用的输出到stdout：

fofa search -f host,ip -s 10000 --format=json 'is_domain=true && title="ERROR: The requested URL could not be retrieved" && cert.is_valid=true' | \
jq -s -r 'group_by(.ip)| map({ ip: (.[0].ip), host: (.[0].host) }) | .[] |.host' > host.txt

go run ./samples/checkhost --file host.txt > valid.txt
*/
func main() {
	proxy := pflag.String("proxy", "", "check one proxy")
	file := pflag.String("file", "", "check proxies in file, one per line")
	target := pflag.String("target", checkproxy.DefaultCheckURL, "url used to test proxies")
	timeout := pflag.Duration("timeout", checkproxy.DefaultTimeout, "timeout of each check")
	workers := pflag.Int("workers", 10, "concurrent checks")
	level := pflag.String("log_level", "warn", "log level")
	pflag.Parse()

	logger.Init(*level)
	if *proxy == "" && *file == "" {
		log.Fatal().Msg("no proxy to check")
	}

	prober := checkproxy.NewHTTPProber()
	ctx := context.Background()

	if *proxy != "" {
		p, err := proxyurl.Parse(*proxy)
		if err != nil {
			log.Fatal().Err(err).Msg("parse proxy failed")
		}
		fmt.Println(prober.Probe(ctx, p, *target, *timeout))
		return
	}

	raws, err := pool.NewFileStore(*file).Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load proxy file failed")
	}

	var mu sync.Mutex
	wp := workerpool.New(*workers)
	for _, raw := range raws {
		raw := raw
		wp.Submit(func() {
			p, err := proxyurl.Parse(raw)
			if err != nil {
				log.Warn().Str("proxy", raw).Err(err).Msg("skip")
				return
			}
			r := prober.Probe(ctx, p, *target, *timeout)

			mu.Lock()
			defer mu.Unlock()
			if r.Valid {
				os.Stderr.WriteString("\n")
				fmt.Println(raw, r)
			} else {
				os.Stderr.WriteString(".")
			}
		})
	}
	wp.StopWait()
	os.Stderr.WriteString("\n")
}

package pool

import (
	"context"
	"errors"
	"github.com/LubyRuffy/rproxypool/checkproxy"
	"github.com/LubyRuffy/rproxypool/proxyurl"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

func memStore(t *testing.T, lines ...string) (*FileStore, afero.Fs) {
	fs := afero.NewMemMapFs()
	require.Nil(t, afero.WriteFile(fs, "/data/proxies.txt", []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return NewFileStoreFs(fs, "/data/proxies.txt"), fs
}

func readLines(t *testing.T, fs afero.Fs) []string {
	d, err := afero.ReadFile(fs, "/data/proxies.txt")
	require.Nil(t, err)
	return strings.Fields(string(d))
}

func raws(records []Record) []string {
	var list []string
	for _, r := range records {
		list = append(list, r.Raw)
	}
	return list
}

func TestLoadAndValidate(t *testing.T) {
	store, fs := memStore(t, "1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80")
	prober := checkproxy.NewStaticProber(map[string]bool{"2.2.2.2:80": true})

	p, err := LoadAndValidate(context.Background(), store, 10, prober)
	require.Nil(t, err)
	require.NotNil(t, p)

	records := p.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "2.2.2.2:80", records[0].Raw)
	assert.Equal(t, Valid, records[0].Status)
	assert.Equal(t, []string{"2.2.2.2:80"}, readLines(t, fs))
	assert.Equal(t, []string{"1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80"}, prober.Calls())

	valid := p.Valid()
	require.Len(t, valid, 1)
	assert.Equal(t, "2.2.2.2", valid[0].Host)
}

func TestLoadAndValidate_noValid(t *testing.T) {
	store, fs := memStore(t, "1.1.1.1:80", "2.2.2.2:80")
	p, err := LoadAndValidate(context.Background(), store, 2, checkproxy.NewStaticProber(nil))
	assert.Nil(t, p)
	assert.True(t, errors.Is(err, ErrNoValidProxies), err)
	// 无效的全部从文件中删除
	assert.Empty(t, readLines(t, fs))

	// 空列表也是 ErrNoValidProxies
	store, _ = memStore(t, "# nothing here", "")
	_, err = LoadAndValidate(context.Background(), store, 2, checkproxy.NewStaticProber(nil))
	assert.True(t, errors.Is(err, ErrNoValidProxies), err)
}

func TestLoadAndValidate_sourceUnavailable(t *testing.T) {
	store := NewFileStoreFs(afero.NewMemMapFs(), "/missing.txt")
	p, err := LoadAndValidate(context.Background(), store, 2, checkproxy.NewStaticProber(nil))
	assert.Nil(t, p)
	assert.True(t, errors.Is(err, ErrSourceUnavailable), err)
	assert.False(t, errors.Is(err, ErrNoValidProxies))
}

func TestLoadAndValidate_badArgs(t *testing.T) {
	store, _ := memStore(t, "1.1.1.1:80")
	_, err := LoadAndValidate(context.Background(), store, 0, checkproxy.NewStaticProber(nil))
	assert.NotNil(t, err)
	_, err = LoadAndValidate(context.Background(), store, 1, nil)
	assert.NotNil(t, err)
}

func TestLoadAndValidate_target(t *testing.T) {
	// 1、3可用，目标2个：检查到第3个就停止，4、5保持未测试
	list := []string{"1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80", "4.4.4.4:80", "5.5.5.5:80"}
	store, fs := memStore(t, list...)
	prober := checkproxy.NewStaticProber(map[string]bool{list[0]: true, list[2]: true})

	p, err := LoadAndValidate(context.Background(), store, 2, prober)
	require.Nil(t, err)
	assert.Equal(t, list[:3], prober.Calls())

	records := p.Records()
	assert.Equal(t, []string{list[0], list[2], list[3], list[4]}, raws(records))
	assert.Equal(t, []Status{Valid, Valid, Untested, Untested},
		[]Status{records[0].Status, records[1].Status, records[2].Status, records[3].Status})
	assert.Equal(t, []string{list[0], list[2], list[3], list[4]}, readLines(t, fs))
	assert.Len(t, p.Valid(), 2)
	assert.Equal(t, 4, p.Len())
	assert.Equal(t, 2, p.Target())
}

func TestLoadAndValidate_roundTrip(t *testing.T) {
	list := []string{"1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80", "4.4.4.4:80", "5.5.5.5:80"}
	store, fs := memStore(t, list...)
	_, err := LoadAndValidate(context.Background(), store, 2,
		checkproxy.NewStaticProber(map[string]bool{list[0]: true, list[2]: true}))
	require.Nil(t, err)
	first := readLines(t, fs)

	// 重新加载，剩下的全部可用
	all := map[string]bool{}
	for _, raw := range list {
		all[raw] = true
	}
	p, err := LoadAndValidate(context.Background(), store, 2, checkproxy.NewStaticProber(all))
	require.Nil(t, err)
	assert.Equal(t, first, readLines(t, fs))
	assert.Equal(t, []string{list[0], list[2]}, []string{p.Valid()[0].Raw, p.Valid()[1].Raw})

	p, err = LoadAndValidate(context.Background(), store, 10, checkproxy.NewStaticProber(all))
	require.Nil(t, err)
	assert.Equal(t, first, readLines(t, fs))
	assert.Len(t, p.Valid(), 4)
}

func TestLoadAndValidate_duplicatesAndMalformed(t *testing.T) {
	store, fs := memStore(t,
		"# comment",
		"1.1.1.1:80",
		"",
		"not-a-proxy",
		"ftp://9.9.9.9:21",
		"1.1.1.1:80",
		"  2.2.2.2:80  ",
	)
	prober := checkproxy.NewStaticProber(map[string]bool{"1.1.1.1:80": true})
	p, err := LoadAndValidate(context.Background(), store, 10, prober)
	require.Nil(t, err)

	// 重复的都检查，解析失败的不检查
	assert.Equal(t, []string{"1.1.1.1:80", "1.1.1.1:80", "2.2.2.2:80"}, prober.Calls())
	assert.Equal(t, []string{"1.1.1.1:80", "1.1.1.1:80"}, raws(p.Records()))
	assert.Equal(t, []string{"1.1.1.1:80", "1.1.1.1:80"}, readLines(t, fs))
}

func TestLoadAndValidate_onProbe(t *testing.T) {
	list := []string{"1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80", "4.4.4.4:80"}
	store, _ := memStore(t, list...)

	var seen []string
	var statuses []Status
	_, err := LoadAndValidate(context.Background(), store, 1,
		checkproxy.NewStaticProber(map[string]bool{list[1]: true}),
		WithOnProbe(func(rec Record, res checkproxy.Result) {
			seen = append(seen, rec.Raw)
			statuses = append(statuses, rec.Status)
			assert.Equal(t, rec.Status == Valid, res.Valid)
		}))
	require.Nil(t, err)
	assert.Equal(t, list[:2], seen)
	assert.Equal(t, []Status{Invalid, Valid}, statuses)
}

func TestLoadAndValidate_concurrent(t *testing.T) {
	var list []string
	valid := map[string]bool{}
	for i := 1; i <= 40; i++ {
		raw := "10.0.0." + strconv.Itoa(i) + ":8080"
		list = append(list, raw)
		if i%3 == 0 {
			valid[raw] = true
		}
	}

	// 越靠后的检查越快，完成顺序和列表顺序相反
	var mu sync.Mutex
	var committed []string
	prober := checkproxy.ProberFunc(func(ctx context.Context, p *proxyurl.Proxy, targetURL string, timeout time.Duration) checkproxy.Result {
		idx := 0
		for i, raw := range list {
			if raw == p.Raw {
				idx = i
			}
		}
		select {
		case <-ctx.Done():
			return checkproxy.Result{Reason: "cancelled"}
		case <-time.After(time.Duration(len(list)-idx) * time.Millisecond):
		}
		if valid[p.Raw] {
			return checkproxy.Result{Valid: true}
		}
		return checkproxy.Result{Reason: "invalid"}
	})

	sequential := func() []Record {
		store, _ := memStore(t, list...)
		p, err := LoadAndValidate(context.Background(), store, 5, prober)
		require.Nil(t, err)
		return p.Records()
	}()

	store, fs := memStore(t, list...)
	p, err := LoadAndValidate(context.Background(), store, 5, prober,
		WithConcurrency(8),
		WithOnProbe(func(rec Record, res checkproxy.Result) {
			mu.Lock()
			committed = append(committed, rec.Raw)
			mu.Unlock()
		}))
	require.Nil(t, err)

	assert.Equal(t, sequential, p.Records())
	assert.Len(t, p.Valid(), 5)
	// 第5个可用的是第15个，后面的都保持未测试
	assert.Equal(t, list[:15], committed)
	assert.Equal(t, raws(sequential), readLines(t, fs))
	for _, r := range p.Records()[5:] {
		assert.Equal(t, Untested, r.Status)
	}
}

func TestPool_Revalidate(t *testing.T) {
	list := []string{"1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80", "4.4.4.4:80"}
	store, fs := memStore(t, list...)
	prober := checkproxy.NewStaticProber(map[string]bool{list[0]: true, list[2]: true})

	p, err := LoadAndValidate(context.Background(), store, 1, prober)
	require.Nil(t, err)
	assert.Equal(t, list[:1], prober.Calls())

	// 已经可用的直接保留，不再检查
	require.Nil(t, p.Revalidate(context.Background()))
	assert.Equal(t, list[:1], prober.Calls())
	assert.Equal(t, list, readLines(t, fs))

	// 重新检查可用的代理，1不可用之后会删除，2不可用也删除，3可用
	p.opts.RecheckValid = true
	prober.Results[list[0]] = false
	require.Nil(t, p.Revalidate(context.Background()))
	assert.Equal(t, []string{list[0], list[0], list[1], list[2]}, prober.Calls())
	assert.Equal(t, []string{list[2], list[3]}, raws(p.Records()))
	assert.Equal(t, []string{list[2], list[3]}, readLines(t, fs))

	// 全部失效
	prober.Results = nil
	err = p.Revalidate(context.Background())
	assert.True(t, errors.Is(err, ErrNoValidProxies))
	assert.Empty(t, readLines(t, fs))
	assert.Equal(t, 0, p.Len())
}

func TestPool_Revalidate_overlapping(t *testing.T) {
	list := []string{"1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80"}
	store, fs := memStore(t, list...)
	prober := checkproxy.NewStaticProber(map[string]bool{list[0]: true})

	p, err := LoadAndValidate(context.Background(), store, 1, prober, WithRecheckValid(true))
	require.Nil(t, err)

	prober.Results = map[string]bool{list[2]: true}
	prober.Delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.Revalidate(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.Nil(t, err)
	}

	count := map[string]int{}
	for _, raw := range prober.Calls() {
		count[raw]++
	}
	// 第二次验证基于第一次的结果，已经删除的不会再检查
	assert.Equal(t, 2, count[list[0]])
	assert.Equal(t, 1, count[list[1]])
	assert.Equal(t, 2, count[list[2]])
	assert.Equal(t, list[2:], raws(p.Records()))
	assert.Equal(t, list[2:], readLines(t, fs))
}

func TestLoadAndValidate_cancelled(t *testing.T) {
	list := []string{"1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80"}
	store, fs := memStore(t, list...)

	ctx, cancel := context.WithCancel(context.Background())
	prober := checkproxy.ProberFunc(func(c context.Context, p *proxyurl.Proxy, targetURL string, timeout time.Duration) checkproxy.Result {
		if p.Raw == list[0] {
			return checkproxy.Result{Valid: true}
		}
		cancel()
		<-c.Done()
		return checkproxy.Result{Reason: "cancelled"}
	})

	p, err := LoadAndValidate(ctx, store, 3, prober)
	require.Nil(t, err)
	// 被取消的不算无效
	assert.Equal(t, list, raws(p.Records()))
	assert.Equal(t, list, readLines(t, fs))
	assert.Len(t, p.Valid(), 1)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "untested", Untested.String())
	assert.Equal(t, "valid", Valid.String())
	assert.Equal(t, "invalid", Invalid.String())
	b, err := Valid.MarshalText()
	assert.Nil(t, err)
	assert.Equal(t, "valid", string(b))
}


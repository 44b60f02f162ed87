package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"campaign_watch/internal/config"
	"campaign_watch/internal/model"
	"campaign_watch/internal/notify"
	"campaign_watch/internal/session"
	"campaign_watch/internal/stream"
)

// --- mocks ---

type sentMsg struct {
	ChatID int64
	Text   string
	Markup any
}

type mockAPI struct {
	mu      sync.Mutex
	sent    []sentMsg
	sendErr error
	updates chan tgbotapi.Update
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.mu.Lock()
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text, Markup: msg.ReplyMarkup})
		m.mu.Unlock()
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	if m.updates == nil {
		m.updates = make(chan tgbotapi.Update)
	}
	return m.updates
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Text
}

func (m *mockAPI) last() sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMsg{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockAPI) allTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.Text
	}
	return out
}

func (m *mockAPI) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

type mockCrawler struct {
	mu       sync.Mutex
	state    stream.State
	startErr error
	requests []stream.Request
	results  chan stream.Result
	closed   int
}

func (m *mockCrawler) Start(_ context.Context, req stream.Request) (<-chan stream.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return nil, m.startErr
	}
	m.requests = append(m.requests, req)
	m.state = stream.StateOpen
	if m.results == nil {
		m.results = make(chan stream.Result, 1)
	}
	return m.results, nil
}

func (m *mockCrawler) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	m.state = stream.StateIdle
}

func (m *mockCrawler) State() stream.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// --- helpers ---

const (
	testKST  = 9 * 60 * 60
	testYear = 2025
)

func newTestBot(t *testing.T) (*Bot, *mockAPI, *mockCrawler) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sess := session.New(nil, log)
	sess.SetLocation(time.FixedZone("KST", testKST))
	sess.SetAnchorYear(testYear)

	api := &mockAPI{}
	crawler := &mockCrawler{}
	cfg := &config.Config{
		SessionCookie: "cookie",
		AnchorYear:    testYear,
		Timezone:      "Asia/Seoul",
		NotifyChatIDs: []int64{100},
	}
	return newBot(api, sess, crawler, cfg, log), api, crawler
}

func testRecord(csq, at, title string) model.Record {
	return model.Record{
		Category:          "배송형",
		Mall:              "쿠팡",
		Price:             "15,000원",
		Point:             "1,000P",
		ParticipationTime: at,
		Title:             title,
		URL:               "https://example.com/cp/?csq=" + csq,
	}
}

func seedRecord(t *testing.T, b *Bot, ch model.Channel, rec model.Record) {
	t.Helper()
	if err := b.sess.Merge(ch, rec); err != nil {
		t.Fatalf("seed record: %v", err)
	}
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

func waitForText(t *testing.T, api *mockAPI, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, s := range api.allTexts() {
			if strings.Contains(s, want) {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no reply containing %q, got: %q", want, api.allTexts())
}

// --- handler tests ---

func TestHandleStart(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.handleStart(100)
	requireContains(t, api.lastText(), "Welcome to Campaign Watch")
}

func TestHandleHelp(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.handleHelp(100)
	for _, cmd := range []string{"/crawl", "/stop", "/list", "/delete", "/arm", "/disarm", "/alarms", "/fav"} {
		requireContains(t, api.lastText(), cmd)
	}
}

func TestHandleCrawl(t *testing.T) {
	ctx := context.Background()

	t.Run("no cookie", func(t *testing.T) {
		b, api, crawler := newTestBot(t)
		b.cfg.SessionCookie = ""
		b.handleCrawl(ctx, 100, "15")
		requireContains(t, api.lastText(), "SESSION_COOKIE")
		if diff := cmp.Diff(0, len(crawler.requests)); diff != "" {
			t.Errorf("requests (-want +got):\n%s", diff)
		}
	})

	t.Run("no args and no previous crawl", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleCrawl(ctx, 100, "")
		requireContains(t, api.lastText(), "Usage: /crawl")
	})

	t.Run("bad args", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleCrawl(ctx, 100, "40")
		requireContains(t, api.lastText(), "invalid day")
	})

	t.Run("busy", func(t *testing.T) {
		b, api, crawler := newTestBot(t)
		crawler.startErr = stream.ErrBusy
		b.handleCrawl(ctx, 100, "15")
		requireContains(t, api.lastText(), "already running")
	})

	t.Run("start failure", func(t *testing.T) {
		b, api, crawler := newTestBot(t)
		crawler.startErr = errors.New("boom")
		b.handleCrawl(ctx, 100, "15")
		requireContains(t, api.lastText(), "Failed to start crawl: boom")
	})

	t.Run("success reports result", func(t *testing.T) {
		b, api, crawler := newTestBot(t)
		b.handleCrawl(ctx, 100, "15,16 100-200 -x 식품")
		requireContains(t, api.lastText(), "Crawl started: days 15,16, ids 100-200.")

		want := stream.Request{
			SessionCookie:   "cookie",
			SelectedDays:    []string{"15", "16"},
			ExcludeKeywords: []string{"식품"},
			StartID:         100,
			EndID:           200,
		}
		if diff := cmp.Diff([]stream.Request{want}, crawler.requests); diff != "" {
			t.Errorf("requests (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(want.Params(), b.sess.Params()); diff != "" {
			t.Errorf("saved params (-want +got):\n%s", diff)
		}

		seedRecord(t, b, model.ChannelRestricted, testRecord("1", "07월 15일 09시 00분", "a"))
		crawler.results <- stream.Result{Status: stream.StatusDone, Records: 1}
		waitForText(t, api, "Crawl finished: 1 records received.\nHidden: 1, public: 0")
		for _, s := range api.allTexts() {
			if strings.Contains(s, "unreadable participation time") {
				t.Errorf("unexpected unparseable warning: %q", s)
			}
		}
	})

	t.Run("result counts unparseable times", func(t *testing.T) {
		b, api, crawler := newTestBot(t)
		b.handleCrawl(ctx, 100, "15")

		seedRecord(t, b, model.ChannelPublic, testRecord("1", "07월 15일 09시 00분", "a"))
		seedRecord(t, b, model.ChannelPublic, testRecord("2", "추후 공지", "b"))
		crawler.results <- stream.Result{Status: stream.StatusDone, Records: 2}
		waitForText(t, api, "Hidden: 0, public: 2\n1 campaigns have an unreadable participation time")
	})

	t.Run("no args repeats last crawl", func(t *testing.T) {
		b, api, crawler := newTestBot(t)
		b.sess.SetParams(model.CrawlParams{SelectedDays: []string{"3"}, UseFullRange: true})
		b.handleCrawl(ctx, 100, "")
		requireContains(t, api.lastText(), "Crawl started: days 3, full range.")

		want := []stream.Request{{SessionCookie: "cookie", SelectedDays: []string{"3"}, UseFullRange: true}}
		if diff := cmp.Diff(want, crawler.requests); diff != "" {
			t.Errorf("requests (-want +got):\n%s", diff)
		}
	})
}

func TestHandleStop(t *testing.T) {
	t.Run("idle", func(t *testing.T) {
		b, api, crawler := newTestBot(t)
		b.handleStop(100)
		requireContains(t, api.lastText(), "No crawl is running.")
		if diff := cmp.Diff(0, crawler.closed); diff != "" {
			t.Errorf("close calls (-want +got):\n%s", diff)
		}
	})

	t.Run("running", func(t *testing.T) {
		b, api, crawler := newTestBot(t)
		crawler.state = stream.StateOpen
		b.handleStop(100)
		requireContains(t, api.lastText(), "Stopping crawl")
		if diff := cmp.Diff(1, crawler.closed); diff != "" {
			t.Errorf("close calls (-want +got):\n%s", diff)
		}
	})
}

func TestHandleStatus(t *testing.T) {
	b, api, crawler := newTestBot(t)
	crawler.state = stream.StateConnecting
	seedRecord(t, b, model.ChannelRestricted, testRecord("1", "07월 15일 09시 00분", "a"))
	seedRecord(t, b, model.ChannelPublic, testRecord("2", "07월 15일 10시 00분", "b"))
	seedRecord(t, b, model.ChannelPublic, testRecord("3", "07월 15일 11시 00분", "c"))

	b.handleStatus(100)
	reply := api.lastText()
	requireContains(t, reply, "Crawler: connecting")
	requireContains(t, reply, "Hidden campaigns: 1")
	requireContains(t, reply, "Public campaigns: 2")
}

func TestHandleList(t *testing.T) {
	t.Run("bad args", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleList(100, "")
		requireContains(t, api.lastText(), "Error: usage")
	})

	t.Run("empty", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleList(100, "hidden")
		requireContains(t, api.lastText(), "Hidden campaigns: no campaigns.")
	})

	t.Run("sorted with alarm marker", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		seedRecord(t, b, model.ChannelRestricted, testRecord("2", "07월 15일 21시 30분", "텀블러"))
		seedRecord(t, b, model.ChannelRestricted, testRecord("1", "07월 15일 09시 00분", "무선 이어폰"))
		if err := b.sess.Arm(testRecord("2", "07월 15일 21시 30분", "텀블러"), 3, true); err != nil {
			t.Fatalf("arm: %v", err)
		}

		b.handleList(100, "hidden")
		reply := api.lastText()
		requireContains(t, reply, "Hidden campaigns (2):")
		requireContains(t, reply, "1. [07월 15일 09시 00분] 무선 이어폰\n")
		requireContains(t, reply, "2. [07월 15일 21시 30분] 텀블러 ⏰")
	})

	t.Run("keyword keeps channel index", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		seedRecord(t, b, model.ChannelPublic, testRecord("1", "07월 15일 09시 00분", "무선 이어폰"))
		seedRecord(t, b, model.ChannelPublic, testRecord("2", "07월 15일 21시 30분", "텀블러"))

		b.handleList(100, "public 텀블러")
		reply := api.lastText()
		requireContains(t, reply, "Public campaigns (1):")
		requireContains(t, reply, "2. [07월 15일 21시 30분] 텀블러")
		if strings.Contains(reply, "무선 이어폰") {
			t.Errorf("filtered record listed:\n%s", reply)
		}
	})

	seedShop := func(t *testing.T, b *Bot) {
		t.Helper()
		for _, r := range []model.Record{
			shopRecord("1", "07월 15일 09시 00분", "무선 이어폰", "쿠팡", "15,000원"),
			shopRecord("2", "07월 15일 10시 00분", "무선 충전기", "11번가", "9,000원"),
			shopRecord("3", "07월 15일 11시 00분", "이어폰 케이스", "쿠팡", "30,000원"),
		} {
			seedRecord(t, b, model.ChannelPublic, r)
		}
	}

	t.Run("exclude and regex", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		seedShop(t, b)

		b.handleList(100, "public re:^무선 -x 충전기")
		reply := api.lastText()
		requireContains(t, reply, "Public campaigns (1):")
		requireContains(t, reply, "1. [07월 15일 09시 00분] 무선 이어폰")

		b.handleList(100, "public -re:케이스")
		requireContains(t, api.lastText(), "Public campaigns (2):")
	})

	t.Run("invalid regex", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleList(100, "public re:(")
		requireContains(t, api.lastText(), "Error: invalid regex")
	})

	t.Run("mall narrows keyword", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		seedShop(t, b)

		b.handleList(100, "public 무선 mall:쿠팡")
		reply := api.lastText()
		requireContains(t, reply, "Public campaigns (1):")
		requireContains(t, reply, "1. [07월 15일 09시 00분] 무선 이어폰")
	})

	t.Run("sorted by price keeps channel index", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		seedShop(t, b)

		b.handleList(100, "public sort:-price")
		reply := api.lastText()
		first := strings.Index(reply, "3. [07월 15일 11시 00분] 이어폰 케이스")
		second := strings.Index(reply, "1. [07월 15일 09시 00분] 무선 이어폰")
		third := strings.Index(reply, "2. [07월 15일 10시 00분] 무선 충전기")
		if first < 0 || !(first < second && second < third) {
			t.Errorf("want descending price order, got:\n%s", reply)
		}

		b.handleList(100, "public sort:price")
		reply = api.lastText()
		if strings.Index(reply, "무선 충전기") > strings.Index(reply, "무선 이어폰") {
			t.Errorf("want ascending price order, got:\n%s", reply)
		}
	})
}

func shopRecord(csq, at, title, mall, price string) model.Record {
	r := testRecord(csq, at, title)
	r.Mall = mall
	r.Price = price
	return r
}

func TestHandleMalls(t *testing.T) {
	t.Run("bad args", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleMalls(100, "")
		requireContains(t, api.lastText(), "Usage: /malls")
	})

	t.Run("empty", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleMalls(100, "hidden")
		requireContains(t, api.lastText(), "No malls in hidden campaigns.")
	})

	t.Run("distinct in channel order", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		seedRecord(t, b, model.ChannelPublic, shopRecord("1", "07월 15일 09시 00분", "a", "쿠팡", "1원"))
		seedRecord(t, b, model.ChannelPublic, shopRecord("2", "07월 15일 10시 00분", "b", "11번가", "1원"))
		seedRecord(t, b, model.ChannelPublic, shopRecord("3", "07월 15일 11시 00분", "c", "쿠팡", "1원"))

		b.handleMalls(100, "public")
		if diff := cmp.Diff("Malls in public campaigns (2):\n쿠팡\n11번가", api.lastText()); diff != "" {
			t.Errorf("reply (-want +got):\n%s", diff)
		}
	})
}

func TestHandleClear(t *testing.T) {
	t.Run("bad args", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleClear(100, "everything")
		requireContains(t, api.lastText(), "Usage: /clear")
	})

	t.Run("clears one channel", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		seedRecord(t, b, model.ChannelRestricted, testRecord("1", "07월 15일 09시 00분", "a"))
		seedRecord(t, b, model.ChannelRestricted, testRecord("2", "07월 15일 10시 00분", "b"))
		seedRecord(t, b, model.ChannelPublic, testRecord("3", "07월 15일 11시 00분", "c"))

		b.handleClear(100, "hidden")
		requireContains(t, api.lastText(), "Cleared 2 hidden campaigns.")
		if n := len(b.sess.Records(model.ChannelRestricted)); n != 0 {
			t.Errorf("hidden still has %d records", n)
		}
		if n := len(b.sess.Records(model.ChannelPublic)); n != 1 {
			t.Errorf("public has %d records, want 1", n)
		}
	})
}

func TestHandleDelete(t *testing.T) {
	t.Run("bad args", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleDelete(100, "hidden")
		requireContains(t, api.lastText(), "Error: usage")
	})

	t.Run("out of range", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		seedRecord(t, b, model.ChannelRestricted, testRecord("1", "07월 15일 09시 00분", "a"))
		b.handleDelete(100, "hidden 2")
		requireContains(t, api.lastText(), "No entry 2 in hidden campaigns.")
	})

	t.Run("success", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		seedRecord(t, b, model.ChannelRestricted, testRecord("1", "07월 15일 09시 00분", "무선 이어폰"))
		seedRecord(t, b, model.ChannelRestricted, testRecord("2", "07월 15일 21시 30분", "텀블러"))

		b.handleDelete(100, "hidden 1")
		requireContains(t, api.lastText(), "Deleted 1. 무선 이어폰")

		got := b.sess.Records(model.ChannelRestricted)
		if diff := cmp.Diff([]model.Record{testRecord("2", "07월 15일 21시 30분", "텀블러")}, got); diff != "" {
			t.Errorf("remaining records (-want +got):\n%s", diff)
		}
	})
}

func TestHandleArm(t *testing.T) {
	t.Run("bad args", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleArm(100, "101 9")
		requireContains(t, api.lastText(), "Usage: /arm")
	})

	t.Run("not found", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleArm(100, "101")
		requireContains(t, api.lastText(), "csq 101 not found")
	})

	t.Run("success", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		rec := testRecord("101", "07월 15일 09시 00분", "무선 이어폰")
		seedRecord(t, b, model.ChannelRestricted, rec)

		b.handleArm(100, "101 5 notab")
		msg := api.last()
		requireContains(t, msg.Text, "Alarm armed for csq 101: 무선 이어폰")
		requireContains(t, msg.Text, "Fires 5 min before 07월 15일 09시 00분.")
		if strings.Contains(msg.Text, "Warning") {
			t.Errorf("unexpected warning:\n%s", msg.Text)
		}
		if diff := cmp.Diff(recordKeyboard("101", true), msg.Markup); diff != "" {
			t.Errorf("keyboard (-want +got):\n%s", diff)
		}

		want := []model.Alarm{{
			CSQ:               "101",
			ParticipationTime: rec.ParticipationTime,
			Title:             rec.Title,
			URL:               rec.URL,
			LeadMinutes:       5,
			OpenInNewTab:      false,
		}}
		if diff := cmp.Diff(want, b.sess.Alarms()); diff != "" {
			t.Errorf("alarms (-want +got):\n%s", diff)
		}
	})

	t.Run("unparseable time warns", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		seedRecord(t, b, model.ChannelPublic, testRecord("7", "상시", "상시 캠페인"))
		b.handleArm(100, "7")
		requireContains(t, api.lastText(), "will never fire")
		if !b.sess.IsArmed("7") {
			t.Error("alarm should still be armed")
		}
	})

	t.Run("rearm replaces", func(t *testing.T) {
		b, _, _ := newTestBot(t)
		seedRecord(t, b, model.ChannelRestricted, testRecord("101", "07월 15일 09시 00분", "a"))
		b.handleArm(100, "101 1")
		b.handleArm(100, "101 4")
		alarms := b.sess.Alarms()
		if diff := cmp.Diff(1, len(alarms)); diff != "" {
			t.Fatalf("alarm count (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(4, alarms[0].LeadMinutes); diff != "" {
			t.Errorf("lead minutes (-want +got):\n%s", diff)
		}
	})
}

func TestHandleDisarm(t *testing.T) {
	t.Run("bad args", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleDisarm(100, "")
		requireContains(t, api.lastText(), "Usage: /disarm")
	})

	t.Run("not armed", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleDisarm(100, "101")
		requireContains(t, api.lastText(), "No alarm armed for csq 101.")
	})

	t.Run("success", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		if err := b.sess.Arm(testRecord("101", "07월 15일 09시 00분", "a"), 3, true); err != nil {
			t.Fatalf("arm: %v", err)
		}
		b.handleDisarm(100, "101")
		requireContains(t, api.lastText(), "Alarm for csq 101 disarmed.")
		if b.sess.IsArmed("101") {
			t.Error("alarm still armed")
		}
	})
}

func TestHandleAlarms(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.handleAlarms(100)
	requireContains(t, api.lastText(), "No alarms armed")

	if err := b.sess.Arm(testRecord("101", "07월 15일 09시 00분", "무선 이어폰"), 2, true); err != nil {
		t.Fatalf("arm: %v", err)
	}
	b.handleAlarms(100)
	requireContains(t, api.lastText(), "csq 101 [07월 15일 09시 00분] 무선 이어폰")
	requireContains(t, api.lastText(), "2 min before, opens link")
}

func TestHandleFav(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleFav(100, "5")
		requireContains(t, api.lastText(), "csq 5 not found")
	})

	t.Run("toggle", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		rec := testRecord("5", "07월 15일 09시 00분", "텀블러")
		seedRecord(t, b, model.ChannelPublic, rec)

		b.handleFav(100, "5")
		requireContains(t, api.lastText(), "Added to favorites: 텀블러")
		if diff := cmp.Diff([]model.Record{rec}, b.sess.Favorites()); diff != "" {
			t.Errorf("favorites (-want +got):\n%s", diff)
		}

		b.handleFav(100, "5")
		requireContains(t, api.lastText(), "Removed from favorites: 텀블러")
		if diff := cmp.Diff(0, len(b.sess.Favorites())); diff != "" {
			t.Errorf("favorites count (-want +got):\n%s", diff)
		}
	})
}

func TestHandleFavs(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.handleFavs(100)
	requireContains(t, api.lastText(), "Favorites: no campaigns.")

	seedRecord(t, b, model.ChannelPublic, testRecord("5", "07월 15일 09시 00분", "텀블러"))
	b.handleFav(100, "5")
	b.handleFavs(100)
	requireContains(t, api.lastText(), "Favorites (1):")
	requireContains(t, api.lastText(), "1. [07월 15일 09시 00분] 텀블러")
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()

	makeMsg := func(cmd, args string) *tgbotapi.Message {
		text := "/" + cmd
		if args != "" {
			text += " " + args
		}
		return &tgbotapi.Message{
			Chat: &tgbotapi.Chat{ID: 100},
			Text: text,
			Entities: []tgbotapi.MessageEntity{
				{Type: "bot_command", Offset: 0, Length: len("/" + cmd)},
			},
		}
	}

	t.Run("dispatches known commands", func(t *testing.T) {
		b, api, _ := newTestBot(t)

		cmds := []struct {
			cmd      string
			args     string
			contains string
		}{
			{"start", "", "Welcome"},
			{"help", "", "/crawl"},
			{"status", "", "Crawler: idle"},
			{"stop", "", "No crawl is running"},
			{"list", "public", "Public campaigns: no campaigns."},
			{"alarms", "", "No alarms armed"},
			{"favs", "", "Favorites: no campaigns."},
			{"arm", "9", "csq 9 not found"},
			{"disarm", "9", "No alarm armed"},
			{"fav", "9", "csq 9 not found"},
			{"delete", "public 1", "No entry 1"},
			{"malls", "public", "No malls in public campaigns."},
			{"clear", "public", "Cleared 0 public campaigns."},
			{"unknown_cmd", "", "Unknown command"},
		}

		for _, tc := range cmds {
			api.reset()
			b.handleCommand(ctx, makeMsg(tc.cmd, tc.args))
			requireContains(t, api.lastText(), tc.contains)
		}
	})
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()

	makeCallback := func(data string) *tgbotapi.CallbackQuery {
		return &tgbotapi.CallbackQuery{
			ID:      "cb1",
			Data:    data,
			From:    &tgbotapi.User{ID: 1, UserName: "tester"},
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		}
	}

	t.Run("invalid data format", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleCallback(ctx, makeCallback("nocolon"))
		if diff := cmp.Diff(0, len(api.allTexts())); diff != "" {
			t.Errorf("expected no text messages (-want +got):\n%s", diff)
		}
	})

	t.Run("invalid csq", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleCallback(ctx, makeCallback("arm:abc"))
		if diff := cmp.Diff(0, len(api.allTexts())); diff != "" {
			t.Errorf("expected no text messages (-want +got):\n%s", diff)
		}
	})

	t.Run("arm then disarm", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		seedRecord(t, b, model.ChannelRestricted, testRecord("101", "07월 15일 09시 00분", "a"))

		b.handleCallback(ctx, makeCallback(callbackData(cmdArm, "101")))
		requireContains(t, api.lastText(), "Alarm armed for csq 101")
		if diff := cmp.Diff(3, b.sess.Alarms()[0].LeadMinutes); diff != "" {
			t.Errorf("default lead (-want +got):\n%s", diff)
		}

		b.handleCallback(ctx, makeCallback(callbackData(cmdDisarm, "101")))
		requireContains(t, api.lastText(), "Alarm for csq 101 disarmed.")
	})

	t.Run("fav", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		seedRecord(t, b, model.ChannelPublic, testRecord("5", "07월 15일 09시 00분", "텀블러"))
		b.handleCallback(ctx, makeCallback(callbackData(cmdFav, "5")))
		requireContains(t, api.lastText(), "Added to favorites")
	})
}

func TestAlert(t *testing.T) {
	ctx := context.Background()

	t.Run("sends to every chat with link button", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.cfg.NotifyChatIDs = []int64{100, 200}
		alarm := model.Alarm{CSQ: "101", Title: "무선 이어폰", URL: "https://example.com/cp/?csq=101"}

		if err := b.Alert(ctx, notify.AlertFor(alarm)); err != nil {
			t.Fatalf("Alert: %v", err)
		}

		api.mu.Lock()
		defer api.mu.Unlock()
		if diff := cmp.Diff(2, len(api.sent)); diff != "" {
			t.Fatalf("sent count (-want +got):\n%s", diff)
		}
		for i, chatID := range []int64{100, 200} {
			msg := api.sent[i]
			if diff := cmp.Diff(chatID, msg.ChatID); diff != "" {
				t.Errorf("chat id (-want +got):\n%s", diff)
			}
			requireContains(t, msg.Text, notify.AlertTitle)
			requireContains(t, msg.Text, "무선 이어폰")
			kb, ok := msg.Markup.(tgbotapi.InlineKeyboardMarkup)
			if !ok {
				t.Fatalf("markup type %T", msg.Markup)
			}
			if diff := cmp.Diff(alarm.URL, *kb.InlineKeyboard[0][0].URL); diff != "" {
				t.Errorf("button url (-want +got):\n%s", diff)
			}
		}
	})

	t.Run("send errors are joined", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.cfg.NotifyChatIDs = []int64{100, 200}
		api.sendErr = errors.New("telegram down")

		err := b.Alert(ctx, notify.Alert{Title: notify.AlertTitle})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		for _, want := range []string{"chat 100", "chat 200", "telegram down"} {
			requireContains(t, err.Error(), want)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		if err := b.Alert(cctx, notify.Alert{Title: notify.AlertTitle}); err == nil {
			t.Fatal("expected error, got nil")
		}
		if diff := cmp.Diff(0, len(api.allTexts())); diff != "" {
			t.Errorf("sent count (-want +got):\n%s", diff)
		}
	})
}

func TestRunAccessControl(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.cfg.AllowedUsers = []int64{1}
	updates := make(chan tgbotapi.Update)
	api.updates = updates

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	command := func(userID int64, cmd string) tgbotapi.Update {
		return tgbotapi.Update{Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: userID},
			Chat: &tgbotapi.Chat{ID: 100},
			Text: "/" + cmd,
			Entities: []tgbotapi.MessageEntity{
				{Type: "bot_command", Offset: 0, Length: len("/" + cmd)},
			},
		}}
	}

	updates <- command(2, "status")
	waitForText(t, api, "Access denied.")

	updates <- command(1, "status")
	waitForText(t, api, "Crawler: idle")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop, sent: %q", api.allTexts())
	}
}

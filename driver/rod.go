package driver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/minutely/outreach/domain"
)

// Config holds browser-level settings for the rod driver.
type Config struct {
	BaseURL     string
	Headless    bool
	CookiesFile string
}

// RodDriver drives the target service through a real Chromium instance.
// One browser session is shared by all callers; every operation serializes
// through the driver mutex.
type RodDriver struct {
	mu      sync.Mutex
	cfg     Config
	log     *zap.Logger
	browser *rod.Browser
	page    *rod.Page
	ready   bool
}

// NewRodDriver creates a driver. The browser is launched lazily on the
// first Authenticate call.
func NewRodDriver(cfg Config, log *zap.Logger) *RodDriver {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.linkedin.com/"
	}
	return &RodDriver{cfg: cfg, log: log.Named("driver")}
}

func (d *RodDriver) launch() error {
	if d.page != nil {
		return nil
	}
	url, err := launcher.New().Leakless(false).Headless(d.cfg.Headless).Launch()
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect browser: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("failed to open page: %w", err)
	}
	d.browser = browser
	d.page = page.Timeout(2 * time.Minute)
	return nil
}

func (d *RodDriver) currentURL() string {
	info, err := d.page.Info()
	if err != nil {
		return ""
	}
	return strings.ToLower(info.URL)
}

// riskTerms are URL fragments that indicate a security challenge.
var riskTerms = []string{"checkpoint", "challenge", "security"}

func (d *RodDriver) challengeVisible() bool {
	url := d.currentURL()
	for _, term := range riskTerms {
		if strings.Contains(url, term) {
			return true
		}
	}
	if _, err := d.page.Timeout(2 * time.Second).ElementR("*", "/verify.*identity|security.*verification|unusual.*activity/i"); err == nil {
		return true
	}
	return false
}

// navigateToProfile opens the contact's profile. A non-zero outcome means
// the caller should stop and report it; an error means the session itself
// is gone.
func (d *RodDriver) navigateToProfile(c *domain.Contact) (ActionOutcome, error) {
	if err := d.page.Navigate(c.ProfileURL); err != nil {
		return ActionOutcome{Status: OutcomeError, Detail: fmt.Sprintf("navigate: %v", err)}, nil
	}
	if err := d.page.WaitLoad(); err != nil {
		return ActionOutcome{Status: OutcomeError, Detail: fmt.Sprintf("page load: %v", err)}, nil
	}
	url := d.currentURL()
	if strings.Contains(url, "/login") || strings.Contains(url, "/authwall") {
		d.ready = false
		return ActionOutcome{}, fmt.Errorf("redirected to login: %w", ErrNotAuthenticated)
	}
	if d.challengeVisible() {
		return ActionOutcome{Status: OutcomeRisk, Detail: "security challenge at " + url}, nil
	}
	if _, err := d.page.Timeout(2 * time.Second).ElementR("*", "/page doesn.*t exist|profile.*not found/i"); err == nil {
		return ActionOutcome{Status: OutcomeError, Permanent: true, Detail: "profile not found"}, nil
	}
	return ActionOutcome{}, nil
}

func (d *RodDriver) messageButton() (*rod.Element, error) {
	return d.page.Timeout(3 * time.Second).ElementR("main button", "/^Message$/i")
}

func (d *RodDriver) isPending() bool {
	if el, err := d.page.Timeout(3 * time.Second).ElementR("button", "/Pending/i"); err == nil {
		if visible, _ := el.Visible(); visible {
			return true
		}
	}
	return false
}

// PerformAction navigates to the contact's profile and performs the action.
func (d *RodDriver) PerformAction(ctx context.Context, c *domain.Contact, action Action) (ActionOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return ActionOutcome{}, ErrNotAuthenticated
	}
	out, err := d.navigateToProfile(c)
	if err != nil {
		return ActionOutcome{}, err
	}
	if out.Status != "" {
		return out, nil
	}

	switch action.Kind {
	case ActionConnectionNote:
		return d.sendConnectionNote(action.Content), nil
	case ActionFirstMessage, ActionFollowUp:
		return d.sendMessage(action.Content, action.AttachmentPath), nil
	default:
		return ActionOutcome{}, fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

func (d *RodDriver) sendConnectionNote(note string) ActionOutcome {
	if btn, err := d.messageButton(); err == nil {
		if visible, _ := btn.Visible(); visible {
			return ActionOutcome{Status: OutcomeSuccess, AlreadyConnected: true}
		}
	}
	if d.isPending() {
		return ActionOutcome{Status: OutcomeSuccess, AlreadyPending: true}
	}

	connectBtn, err := d.page.Timeout(5 * time.Second).ElementR("main button", "/^Connect$/i")
	if err != nil {
		// Connect may be tucked under the More menu.
		more, merr := d.page.Timeout(3 * time.Second).ElementR("main button", "/^More/i")
		if merr != nil {
			return ActionOutcome{Status: OutcomeError, Detail: "connect button not found"}
		}
		if cerr := more.Click(proto.InputMouseButtonLeft, 1); cerr != nil {
			return ActionOutcome{Status: OutcomeError, Detail: fmt.Sprintf("open more menu: %v", cerr)}
		}
		connectBtn, err = d.page.Timeout(3 * time.Second).ElementR("div[role='button'], button", "/^Connect$/i")
		if err != nil {
			return ActionOutcome{Status: OutcomeError, Detail: "connect option not found"}
		}
	}
	if err := connectBtn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return ActionOutcome{Status: OutcomeError, Detail: fmt.Sprintf("click connect: %v", err)}
	}

	if addNote, err := d.page.Timeout(4 * time.Second).ElementR("button", "/Add a note/i"); err == nil {
		if err := addNote.Click(proto.InputMouseButtonLeft, 1); err == nil {
			if textarea, terr := d.page.Timeout(3 * time.Second).Element("textarea#custom-message, textarea[name='message']"); terr == nil {
				_ = textarea.Input(note)
			}
		}
	}

	sendBtn, err := d.page.Timeout(4 * time.Second).ElementR("button", "/^Send/i")
	if err != nil {
		return ActionOutcome{Status: OutcomeError, Detail: "send button not found on connect modal"}
	}
	if err := sendBtn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return ActionOutcome{Status: OutcomeError, Detail: fmt.Sprintf("click send: %v", err)}
	}
	return ActionOutcome{Status: OutcomeSuccess}
}

func (d *RodDriver) sendMessage(content, attachmentPath string) ActionOutcome {
	btn, err := d.messageButton()
	if err != nil {
		return ActionOutcome{Status: OutcomeError, Detail: "message button not found"}
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return ActionOutcome{Status: OutcomeError, Detail: fmt.Sprintf("open thread: %v", err)}
	}

	box, err := d.page.Timeout(5 * time.Second).Element("div.msg-form__contenteditable[contenteditable='true']")
	if err != nil {
		return ActionOutcome{Status: OutcomeError, Detail: "message box not found"}
	}
	if err := box.Input(content); err != nil {
		return ActionOutcome{Status: OutcomeError, Detail: fmt.Sprintf("type message: %v", err)}
	}

	if attachmentPath != "" {
		if input, ferr := d.page.Timeout(3 * time.Second).Element("input[type='file']"); ferr == nil {
			if err := input.SetFiles([]string{attachmentPath}); err != nil {
				d.log.Warn("attachment upload failed, sending text only", zap.Error(err))
			} else {
				// Give the upload a moment before hitting send.
				time.Sleep(5 * time.Second)
			}
		}
	}

	sendBtn, err := d.page.Timeout(4 * time.Second).Element("button.msg-form__send-button")
	if err != nil {
		sendBtn, err = d.page.Timeout(3 * time.Second).ElementR("button", "/^Send$/i")
		if err != nil {
			return ActionOutcome{Status: OutcomeError, Detail: "send button not found"}
		}
	}
	if err := sendBtn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return ActionOutcome{Status: OutcomeError, Detail: fmt.Sprintf("click send: %v", err)}
	}
	return ActionOutcome{Status: OutcomeSuccess}
}

// Observe reads acceptance and reply state from the contact's profile and
// message thread without sending anything.
func (d *RodDriver) Observe(ctx context.Context, c *domain.Contact) (Observation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return Observation{}, ErrNotAuthenticated
	}
	out, err := d.navigateToProfile(c)
	if err != nil {
		return Observation{}, err
	}
	if out.Status == OutcomeRisk {
		return Observation{Risk: true, Detail: out.Detail}, nil
	}
	if out.Status != "" {
		return Observation{}, fmt.Errorf("observe %s: %s", c.ProfileID, out.Detail)
	}

	var obs Observation
	if btn, err := d.messageButton(); err == nil {
		if visible, _ := btn.Visible(); visible {
			obs.Accepted = true
		}
	}
	if obs.Accepted && c.LastMessagedAt != nil {
		obs.Replied = d.threadHasReply()
	}
	return obs, nil
}

// threadHasReply opens the message thread and looks for an inbound bubble.
func (d *RodDriver) threadHasReply() bool {
	btn, err := d.messageButton()
	if err != nil {
		return false
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false
	}
	if _, err := d.page.Timeout(5 * time.Second).Element("div.msg-s-message-list-container"); err != nil {
		return false
	}
	res, err := d.page.Eval(`() => {
		const items = document.querySelectorAll('li.msg-s-message-list__event');
		for (const item of items) {
			if (item.querySelector('.msg-s-event-listitem--other')) return true;
		}
		return false;
	}`)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

// ListConnections scrapes the connections page and returns one contact per
// entry, already marked connected.
func (d *RodDriver) ListConnections(ctx context.Context) ([]domain.Contact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return nil, ErrNotAuthenticated
	}
	if err := d.page.Navigate(d.cfg.BaseURL + "mynetwork/invite-connect/connections/"); err != nil {
		return nil, fmt.Errorf("navigate connections: %w", err)
	}
	if err := d.page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("connections page load: %w", err)
	}
	if d.challengeVisible() {
		return nil, fmt.Errorf("security challenge on connections page")
	}

	// Scroll a few times to load more entries before collecting.
	for i := 0; i < 5; i++ {
		if _, err := d.page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			break
		}
		time.Sleep(2 * time.Second)
	}

	res, err := d.page.Eval(`() => {
		const out = [];
		const cards = document.querySelectorAll('.mn-connection-card');
		for (const card of cards) {
			const link = card.querySelector('a.mn-connection-card__link');
			const name = card.querySelector('.mn-connection-card__name');
			const occupation = card.querySelector('.mn-connection-card__occupation');
			if (!link || !name) continue;
			out.push({
				url: link.href,
				name: name.textContent.trim(),
				title: occupation ? occupation.textContent.trim() : '',
			});
		}
		return out;
	}`)
	if err != nil {
		return nil, fmt.Errorf("collect connections: %w", err)
	}

	now := time.Now().UTC()
	var contacts []domain.Contact
	for _, entry := range res.Value.Arr() {
		url := strings.TrimSuffix(entry.Get("url").Str(), "/")
		if url == "" {
			continue
		}
		fullName := entry.Get("name").Str()
		parts := strings.Fields(fullName)
		firstName := ""
		if len(parts) > 0 {
			firstName = parts[0]
		}
		contacts = append(contacts, domain.Contact{
			ProfileID:   url[strings.LastIndex(url, "/")+1:],
			ProfileURL:  url,
			FullName:    fullName,
			FirstName:   firstName,
			Title:       entry.Get("title").Str(),
			State:       domain.ContactStateConnected,
			ConnectedAt: &now,
		})
	}
	d.log.Info("connections scraped", zap.Int("count", len(contacts)))
	return contacts, nil
}

// Authenticate starts a browser session, trying saved cookies before
// submitting credentials.
func (d *RodDriver) Authenticate(ctx context.Context, creds Credentials) (AuthOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.launch(); err != nil {
		return AuthOutcome{}, err
	}

	if loadCookies(d.page, d.cfg.CookiesFile) == nil && d.sessionValid() {
		d.ready = true
		d.log.Info("session restored from saved cookies")
		return AuthOutcome{Status: AuthConnected, Detail: "logged in via saved cookies"}, nil
	}

	if creds.Email == "" || creds.Password == "" {
		return AuthOutcome{Status: AuthFailed, Detail: "credentials required"}, nil
	}

	if err := d.page.Navigate(d.cfg.BaseURL + "login"); err != nil {
		return AuthOutcome{}, fmt.Errorf("navigate login: %w", err)
	}
	if err := d.page.WaitLoad(); err != nil {
		return AuthOutcome{}, fmt.Errorf("login page load: %w", err)
	}

	username, err := d.page.Timeout(5 * time.Second).Element("input#username")
	if err != nil {
		return AuthOutcome{Status: AuthFailed, Detail: "login form not found"}, nil
	}
	if err := username.Input(creds.Email); err != nil {
		return AuthOutcome{}, fmt.Errorf("fill email: %w", err)
	}
	password, err := d.page.Timeout(5 * time.Second).Element("input#password")
	if err != nil {
		return AuthOutcome{Status: AuthFailed, Detail: "password field not found"}, nil
	}
	if err := password.Input(creds.Password); err != nil {
		return AuthOutcome{}, fmt.Errorf("fill password: %w", err)
	}
	submit, err := d.page.Timeout(5 * time.Second).Element("button[type='submit']")
	if err != nil {
		return AuthOutcome{Status: AuthFailed, Detail: "submit button not found"}, nil
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return AuthOutcome{}, fmt.Errorf("submit login: %w", err)
	}
	time.Sleep(8 * time.Second)

	return d.classifyAuthResult(), nil
}

// SubmitSecondFactor fills the verification code on the checkpoint page.
func (d *RodDriver) SubmitSecondFactor(ctx context.Context, code string) (AuthOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page == nil {
		return AuthOutcome{Status: AuthFailed, Detail: "no browser session"}, nil
	}

	inputSelectors := []string{
		"input#input__email_verification_pin",
		"input#input__phone_verification_pin",
		"input[name='pin']",
	}
	var filled bool
	for _, sel := range inputSelectors {
		if el, err := d.page.Timeout(2 * time.Second).Element(sel); err == nil {
			if err := el.Input(code); err == nil {
				filled = true
				break
			}
		}
	}
	if !filled {
		return AuthOutcome{Status: AuthFailed, Detail: "verification input not found"}, nil
	}

	submit, err := d.page.Timeout(3 * time.Second).Element("button#two-step-submit-button, button[type='submit']")
	if err != nil {
		return AuthOutcome{Status: AuthFailed, Detail: "verification submit not found"}, nil
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return AuthOutcome{}, fmt.Errorf("submit verification: %w", err)
	}
	time.Sleep(8 * time.Second)

	out := d.classifyAuthResult()
	if out.Status == AuthVerificationRequired {
		out.Detail = "verification code was incorrect"
	}
	return out, nil
}

func (d *RodDriver) classifyAuthResult() AuthOutcome {
	url := d.currentURL()
	for _, term := range riskTerms {
		if strings.Contains(url, term) {
			return AuthOutcome{Status: AuthVerificationRequired, Detail: "verification required"}
		}
	}
	if el, err := d.page.Timeout(2 * time.Second).Element("#error-for-password, #error-for-username, .form__label--error"); err == nil {
		if text, _ := el.Text(); text != "" {
			return AuthOutcome{Status: AuthFailed, Detail: strings.TrimSpace(text)}
		}
	}
	if strings.Contains(url, "feed") ||
		(strings.Contains(url, "linkedin.com") && !strings.Contains(url, "login") && !strings.Contains(url, "authwall")) {
		d.ready = true
		if err := saveCookies(d.page, d.cfg.CookiesFile); err != nil {
			d.log.Warn("save cookies failed", zap.Error(err))
		}
		return AuthOutcome{Status: AuthConnected}
	}
	return AuthOutcome{Status: AuthFailed, Detail: "login result unclear"}
}

func (d *RodDriver) sessionValid() bool {
	if err := d.page.Navigate(d.cfg.BaseURL + "feed/"); err != nil {
		return false
	}
	if err := d.page.WaitLoad(); err != nil {
		return false
	}
	url := d.currentURL()
	return strings.Contains(url, "linkedin.com") &&
		!strings.Contains(url, "login") && !strings.Contains(url, "authwall") &&
		!strings.Contains(url, "checkpoint") && !strings.Contains(url, "challenge")
}

// Ready reports whether an authenticated session is live.
func (d *RodDriver) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// Close shuts the browser down.
func (d *RodDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ready = false
	d.page = nil
	if d.browser != nil {
		err := d.browser.Close()
		d.browser = nil
		return err
	}
	return nil
}

// DropCredentials removes persisted cookie material.
func (d *RodDriver) DropCredentials() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return removeCookies(d.cfg.CookiesFile)
}

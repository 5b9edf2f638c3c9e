package browser

// Profile is the identity a session presents to target servers:
// user-agent, viewport, locale, timezone, and the script overrides
// that hide automation signals.
type Profile struct {
	UserAgent      string
	AcceptLanguage string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	Timezone       string
}

// DefaultProfile is a plausible desktop Chrome identity. Municipal
// document servers mostly gate on UA and webdriver flags, nothing
// exotic.
func DefaultProfile() Profile {
	return Profile{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.9",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Locale:         "en-US",
		Timezone:       "America/Los_Angeles",
	}
}

// maskScript runs before any page content loads. It clears the
// automation indicator, synthesises a chrome runtime object, and
// intercepts permission queries so the notification probe matches a
// real browser's answer.
const maskScript = `() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });

	if (!window.chrome) {
		window.chrome = { runtime: {}, loadTimes: () => ({}), csi: () => ({}) };
	}

	const origQuery = window.navigator.permissions.query.bind(window.navigator.permissions);
	window.navigator.permissions.query = (parameters) =>
		parameters.name === 'notifications'
			? Promise.resolve({ state: Notification.permission })
			: origQuery(parameters);

	Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
	Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
}`

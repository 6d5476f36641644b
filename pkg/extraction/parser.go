package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"agent-calendar/core"
)

var (
	pricePatterns = []struct {
		re         *regexp.Regexp
		multiplier float64
	}{
		{re: regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:млн|миллион)`), multiplier: 1_000_000},
		{re: regexp.MustCompile(`(?i)(\d{1,3}(?:\s\d{3})*|\d+)\s*(?:тыс|т\.р|тысяч)`), multiplier: 1_000},
		{re: regexp.MustCompile(`(?i)(\d{1,3}(?:\s\d{3})*|\d+)\s*(?:руб|₽|рубл)`), multiplier: 1},
		{re: regexp.MustCompile(`(?i)(?:цена|стоимость)\s*:?\s*(\d{1,3}(?:\s\d{3})*|\d+)`), multiplier: 1},
	}

	areaPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:кв\.?\s*м|м²|м2)`),
		regexp.MustCompile(`(?i)площадь\s*:?\s*(\d+(?:[.,]\d+)?)`),
	}

	roomsPattern     = regexp.MustCompile(`(?i)(\d+)\s*-?\s*(?:комн|к\.|кк)`)
	roomWordsPattern = regexp.MustCompile(`(?i)(одно|двух|трех|трёх|четырех|четырёх|пяти)\s*комнатн`)
	studioPattern    = regexp.MustCompile(`(?i)студи[яю]`)

	floorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d+)\s*/\s*\d+\s*(?:этаж|эт)`),
		regexp.MustCompile(`(?i)(\d+)\s*(?:этаж|эт\.)`),
		regexp.MustCompile(`(?i)(?:этаж|эт\.?)\s*:?\s*(\d+)`),
	}

	phonePattern    = regexp.MustCompile(`(?:\+7|8)[\s\-(]*\d{3}[\s\-)]*\d{3}[\s\-]*\d{2}[\s\-]*\d{2}`)
	clientPattern   = regexp.MustCompile(`(?:клиент|клиентом|клиенткой|клиента)\s+([А-ЯЁ][а-яё]+)`)
	clockPattern    = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	hourPattern     = regexp.MustCompile(`(?i)(?:^|\s)в\s+(\d{1,2})(?:\s*час|\s|$)`)
	datePattern     = regexp.MustCompile(`(?:^|\s)(\d{1,2})\.(\d{2})(?:\.(\d{2,4}))?(?:[\s,]|$)`)
	unitPrefix      = regexp.MustCompile(`^\s*(?:кв|м|млн|тыс|руб|₽)`)
	durationPattern = regexp.MustCompile(`(?i)на\s+(\d+)\s*(мин|час)`)
)

var roomWords = map[string]int{
	"одно": 1, "двух": 2, "трех": 3, "трёх": 3, "четырех": 4, "четырёх": 4, "пяти": 5,
}

var propertyTypes = []struct {
	name     string
	keywords []string
}{
	{name: "квартира", keywords: []string{"квартир", "апартамент", "студи"}},
	{name: "дом", keywords: []string{"дом", "коттедж", "дача", "усадьба"}},
	{name: "коммерческая", keywords: []string{"офис", "магазин", "склад", "помещение", "коммерческ"}},
}

var eventKeywords = []struct {
	kind     core.EventKind
	keywords []string
}{
	{kind: core.KindShowing, keywords: []string{"показ"}},
	{kind: core.KindViewing, keywords: []string{"просмотр"}},
	{kind: core.KindCall, keywords: []string{"звонок", "созвон", "позвонить", "перезвонить"}},
	{kind: core.KindDeal, keywords: []string{"сделк", "подписан", "договор"}},
	{kind: core.KindMeeting, keywords: []string{"встреч", "консультац", "переговор"}},
	{kind: core.KindTask, keywords: []string{"напомн", "задач"}},
}

var featureKeywords = []string{"балкон", "лоджия", "парковка", "ремонт", "мебель", "лифт", "охрана", "консьерж"}

var partsOfDay = []struct {
	keyword string
	hour    int
}{
	{keyword: "утром", hour: 10},
	{keyword: "днём", hour: 14},
	{keyword: "днем", hour: 14},
	{keyword: "вечером", hour: 18},
}

// Parser extracts fields from plain text with regular expressions. It backs
// the text, OCR and voice modalities, which differ only in the record source.
type Parser struct {
	loc *time.Location
	now func() time.Time
}

func NewParser(loc *time.Location, now func() time.Time) *Parser {
	if loc == nil {
		loc = time.UTC
	}

	if now == nil {
		now = time.Now
	}

	return &Parser{loc: loc, now: now}
}

func (p *Parser) Parse(text string, source core.ExtractionSource) core.ExtractionRecord {
	var (
		fields core.ExtractedFields
		found  int
	)

	text = normalize(text)
	lower := strings.ToLower(text)

	if v, ok := parsePrice(text); ok {
		fields.Price = &v
		found++
	}

	if v, ok := parseArea(text); ok {
		fields.Area = &v
		found++
	}

	if v, ok := parseRooms(text); ok {
		fields.Rooms = &v
		found++
	}

	if v, ok := firstInt(floorPatterns, text); ok {
		fields.Floor = &v
		found++
	}

	for _, pt := range propertyTypes {
		if containsAny(lower, pt.keywords) {
			fields.PropertyType = pt.name
			found++

			break
		}
	}

	for _, ek := range eventKeywords {
		if containsAny(lower, ek.keywords) {
			fields.EventType = ek.kind
			found++

			break
		}
	}

	for _, feature := range featureKeywords {
		if strings.Contains(lower, feature) {
			fields.Features = append(fields.Features, feature)
		}
	}

	if m := phonePattern.FindString(text); m != "" {
		fields.Contact = strings.TrimSpace(m)
		found++
	}

	if m := clientPattern.FindStringSubmatch(text); m != nil {
		fields.ClientName = m[1]
		found++
	}

	if start, ok := p.parseStart(text, lower); ok {
		fields.StartTime = &start
		found++
	}

	if m := durationPattern.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		unit := 1
		if strings.HasPrefix(m[2], "час") {
			unit = 60
		}

		// lengths past a day are dropped before multiplying so they cannot overflow
		if err == nil && n > 0 && n <= core.MaxDurationMinutes/unit {
			n *= unit
			fields.DurationMinutes = &n
		}
	}

	fields.Description = truncateRunes(strings.TrimSpace(text), 200)

	confidence := 0.3 + 0.1*float64(found)
	if confidence > 0.8 {
		confidence = 0.8
	}

	if found == 0 {
		confidence = 0
	}

	return core.NewExtractionRecord(source, fields, confidence)
}

// parseStart resolves relative day words, explicit dates, clock times and
// parts of the day. A day without a time defaults to 10:00; a time without a
// day means its next occurrence.
func (p *Parser) parseStart(text string, lower string) (time.Time, bool) {
	now := p.now().In(p.loc)
	y, m, d := now.Date()

	var (
		dayKnown     bool
		hourKnown    bool
		hour, minute int
	)

	day := time.Date(y, m, d, 0, 0, 0, 0, p.loc)

	switch {
	case strings.Contains(lower, "послезавтра"):
		day, dayKnown = day.AddDate(0, 0, 2), true
	case strings.Contains(lower, "завтра"):
		day, dayKnown = day.AddDate(0, 0, 1), true
	case strings.Contains(lower, "сегодня"):
		dayKnown = true
	}

	if match, ok := findDate(text); ok && !dayKnown {
		dd, _ := strconv.Atoi(match[1])
		mm, _ := strconv.Atoi(match[2])

		yy := y
		if match[3] != "" {
			yy, _ = strconv.Atoi(match[3])
			if yy < 100 {
				yy += 2000
			}
		}

		if dd >= 1 && dd <= 31 && mm >= 1 && mm <= 12 {
			day, dayKnown = time.Date(yy, time.Month(mm), dd, 0, 0, 0, 0, p.loc), true
		}
	}

	if match := clockPattern.FindStringSubmatch(text); match != nil {
		h, _ := strconv.Atoi(match[1])
		mi, _ := strconv.Atoi(match[2])

		if h < 24 && mi < 60 {
			hour, minute, hourKnown = h, mi, true
		}
	}

	if !hourKnown {
		if match := hourPattern.FindStringSubmatch(lower); match != nil {
			h, _ := strconv.Atoi(match[1])
			if h < 24 {
				hour, hourKnown = h, true
			}
		}
	}

	if !hourKnown {
		for _, pod := range partsOfDay {
			if strings.Contains(lower, pod.keyword) {
				hour, hourKnown = pod.hour, true
				break
			}
		}
	}

	switch {
	case !dayKnown && !hourKnown:
		return time.Time{}, false
	case !hourKnown:
		hour = 10
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, p.loc)
	if !dayKnown && start.Before(now) {
		start = start.AddDate(0, 0, 1)
	}

	return start, true
}

// findDate skips dotted numbers that are really areas or prices, like "12.50 м2".
func findDate(text string) ([]string, bool) {
	for _, idx := range datePattern.FindAllStringSubmatchIndex(text, -1) {
		if unitPrefix.MatchString(text[idx[1]:]) {
			continue
		}

		match := make([]string, 4)
		for i := 1; i < 4; i++ {
			if idx[2*i] >= 0 {
				match[i] = text[idx[2*i]:idx[2*i+1]]
			}
		}

		return match, true
	}

	return nil, false
}

func parsePrice(text string) (float64, bool) {
	for _, pp := range pricePatterns {
		m := pp.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		v, err := parseNumber(m[1])
		if err != nil || v <= 0 {
			continue
		}

		return v * pp.multiplier, true
	}

	return 0, false
}

func parseArea(text string) (float64, bool) {
	for _, re := range areaPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		v, err := parseNumber(m[1])
		if err != nil || v <= 0 {
			continue
		}

		return v, true
	}

	return 0, false
}

func parseRooms(text string) (int, bool) {
	if studioPattern.MatchString(text) {
		return 0, true
	}

	if m := roomWordsPattern.FindStringSubmatch(text); m != nil {
		return roomWords[strings.ToLower(m[1])], true
	}

	if m := roomsPattern.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return n, true
		}
	}

	return 0, false
}

func firstInt(patterns []*regexp.Regexp, text string) (int, bool) {
	for _, re := range patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		n, err := strconv.Atoi(m[1])
		if err == nil && n != 0 {
			return n, true
		}
	}

	return 0, false
}

func parseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")

	return strconv.ParseFloat(s, 64)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}

	return false
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	return string([]rune(s)[:limit])
}

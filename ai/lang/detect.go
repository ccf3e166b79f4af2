package lang

// Language identifies the reply language for a turn.
type Language string

const (
	English  Language = "english"
	Hindi    Language = "hindi"
	Assamese Language = "assamese"
)

// Detect classifies text by script. The first Devanagari rune wins for Hindi,
// the first Bengali-Assamese rune for Assamese; Latin and anything else
// default to English. Assamese is checked first since the Bengali block sits
// above Devanagari and the two never overlap.
func Detect(text string) Language {
	for _, r := range text {
		switch {
		case r >= 0x0985 && r <= 0x09FF:
			return Assamese
		case r >= 0x0900 && r <= 0x097F:
			return Hindi
		}
	}
	return English
}

// Name returns the language name used inside prompt instructions.
func (l Language) Name() string {
	switch l {
	case Hindi:
		return "Hindi"
	case Assamese:
		return "Assamese"
	default:
		return "English"
	}
}

// serviceMessages are canned texts the orchestrator emits without an LLM call.
var serviceMessages = map[string]map[Language]string{
	"quota_exceeded": {
		English:  "You have reached your message limit. Please sign up or upgrade your plan to continue chatting.",
		Hindi:    "आपकी संदेश सीमा समाप्त हो गई है। जारी रखने के लिए कृपया साइन अप करें या अपना प्लान अपग्रेड करें।",
		Assamese: "আপোনাৰ বাৰ্তাৰ সীমা শেষ হৈছে। অব্যাহত ৰাখিবলৈ অনুগ্ৰহ কৰি ছাইন আপ কৰক বা আপোনাৰ প্লেন আপগ্ৰেড কৰক।",
	},
	"search_quota_exceeded": {
		English:  "You have used up today's web search allowance. Please try again later, or upgrade your plan for more searches.",
		Hindi:    "आज की वेब खोज सीमा समाप्त हो गई है। कृपया बाद में पुनः प्रयास करें, या अधिक खोजों के लिए अपना प्लान अपग्रेड करें।",
		Assamese: "আজৰ ৱেব সন্ধানৰ সীমা শেষ হৈছে। অনুগ্ৰহ কৰি পিছত পুনৰ চেষ্টা কৰক, বা অধিক সন্ধানৰ বাবে আপোনাৰ প্লেন আপগ্ৰেড কৰক।",
	},
	"service_unavailable": {
		English:  "I am having trouble responding right now. Please try again in a moment.",
		Hindi:    "मुझे अभी उत्तर देने में समस्या हो रही है। कृपया थोड़ी देर बाद पुनः प्रयास करें।",
		Assamese: "মই এতিয়া উত্তৰ দিয়াত অসুবিধা পাইছো। অনুগ্ৰহ কৰি অলপ পিছত পুনৰ চেষ্টা কৰক।",
	},
}

// ServiceMessage returns the localized canned text for key, falling back to
// English when the key or language is unknown.
func ServiceMessage(key string, l Language) string {
	byLang, ok := serviceMessages[key]
	if !ok {
		return ""
	}
	if msg, ok := byLang[l]; ok {
		return msg
	}
	return byLang[English]
}

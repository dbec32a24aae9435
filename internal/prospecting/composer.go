package prospecting

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// Variant selects the campaign shape for a worker.
type Variant string

const (
	// VariantText sends a single greeting message.
	VariantText Variant = "text"
	// VariantMedia sends a voice note followed by the campaign art with a
	// caption. Both sends are required.
	VariantMedia Variant = "media"
)

var defaultTemplates = []string{
	"{greeting}! Aqui é {prospector}. Vi o perfil da sua loja e separei algumas artes de divulgação que podem destacar seus produtos. Posso te mostrar?",
	"{greeting}, tudo bem? Sou {prospector} e trabalho com artes de divulgação para lojas como a sua. Tenho alguns modelos prontos, quer dar uma olhada?",
	"{greeting}! {prospector} falando. Preparamos modelos de divulgação exclusivos para o seu segmento. Posso enviar uma amostra?",
}

// Composer builds the outbound message content for one prospector.
type Composer struct {
	prospector    string
	templates     []string
	signupBaseURL string
	audioURL      string
	location      *time.Location

	// pick selects a template index; tests swap it for a deterministic one.
	pick func(n int) int
}

// NewComposer creates a composer with the default template pool.
func NewComposer(prospector string, location *time.Location) *Composer {
	if location == nil {
		location = time.UTC
	}
	return &Composer{
		prospector: prospector,
		templates:  defaultTemplates,
		location:   location,
		pick:       rand.IntN,
	}
}

// WithTemplates replaces the template pool. Templates may use the
// {greeting} and {prospector} placeholders.
func (c *Composer) WithTemplates(templates []string) *Composer {
	if len(templates) > 0 {
		c.templates = templates
	}
	return c
}

// WithSignupBaseURL sets the base for per-client signup links used in media
// captions.
func (c *Composer) WithSignupBaseURL(base string) *Composer {
	c.signupBaseURL = strings.TrimRight(base, "/")
	return c
}

// WithAudioURL sets the prospector's voice-note URL for the media variant.
func (c *Composer) WithAudioURL(url string) *Composer {
	c.audioURL = url
	return c
}

func (c *Composer) withPicker(pick func(n int) int) *Composer {
	c.pick = pick
	return c
}

// AudioURL returns the prospector's voice-note URL, empty when none is
// configured.
func (c *Composer) AudioURL() string {
	return c.audioURL
}

// Greeting returns the time-of-day salutation in the composer's timezone.
func (c *Composer) Greeting(now time.Time) string {
	hour := now.In(c.location).Hour()
	switch {
	case hour >= 6 && hour < 12:
		return "Bom dia"
	case hour >= 12 && hour < 18:
		return "Boa tarde"
	default:
		return "Boa noite"
	}
}

// Message picks one template from the pool and fills its placeholders.
func (c *Composer) Message(now time.Time) string {
	template := c.templates[c.pick(len(c.templates))]
	msg := strings.ReplaceAll(template, "{greeting}", c.Greeting(now))
	return strings.ReplaceAll(msg, "{prospector}", c.prospector)
}

// MediaCaption builds the caption sent with the campaign art.
func (c *Composer) MediaCaption(leadName, clientID string) string {
	salutation := "Olá!"
	if leadName != "" {
		salutation = fmt.Sprintf("Olá, %s!", leadName)
	}
	link := c.SignupLink(clientID)
	caption := salutation + "\nSegue o link para as artes de divulgação dos seus produtos. 🎨\n" +
		"Deixamos 10 modelos gratuitos disponíveis exclusivamente para você!"
	if link != "" {
		caption += "\n\n👇 Só clicar no link abaixo e editar com seus produtos e preços:\n" + link
	}
	caption += "\n\n🛒 Aproveite e destaque seus produtos com facilidade!"
	return caption
}

// SignupLink builds the per-client signup URL, empty when no base is
// configured.
func (c *Composer) SignupLink(clientID string) string {
	if c.signupBaseURL == "" || clientID == "" {
		return ""
	}
	return c.signupBaseURL + "/login/" + clientID
}

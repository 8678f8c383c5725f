package app

import (
	"os"
	"path/filepath"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"

	"github.com/vthunder/chapelotas/internal/effectors"
	"github.com/vthunder/chapelotas/internal/logging"
)

// Env is the process configuration read from the environment
type Env struct {
	StatePath string
	LogLevel  string
	LogFile   string

	DiscordToken   string
	DiscordChannel string
	DiscordOwner   string

	CalendarCredentials string
	CalendarID          string

	OllamaURL   string
	OllamaModel string

	MetricsAddr string
}

// LoadEnv loads .env (from the working directory, then next to the
// executable) and reads the process configuration.
func LoadEnv() Env {
	paths := []string{".env"}
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths, filepath.Join(filepath.Dir(exeDir), ".env"), filepath.Join(exeDir, ".env"))
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err != nil {
				logging.Warn("config", "load %s: %v", p, err)
			}
			break
		}
	}

	e := Env{
		StatePath:           os.Getenv("CHAPELOTAS_STATE"),
		LogLevel:            os.Getenv("CHAPELOTAS_LOG_LEVEL"),
		LogFile:             os.Getenv("CHAPELOTAS_LOG_FILE"),
		DiscordToken:        os.Getenv("DISCORD_TOKEN"),
		DiscordChannel:      os.Getenv("DISCORD_CHANNEL_ID"),
		DiscordOwner:        os.Getenv("DISCORD_OWNER_ID"),
		CalendarCredentials: os.Getenv("GOOGLE_CALENDAR_CREDENTIALS_FILE"),
		CalendarID:          os.Getenv("GOOGLE_CALENDAR_ID"),
		OllamaURL:           os.Getenv("OLLAMA_URL"),
		OllamaModel:         os.Getenv("OLLAMA_MODEL"),
		MetricsAddr:         os.Getenv("METRICS_ADDR"),
	}
	if e.StatePath == "" {
		e.StatePath = "state"
	}
	return e
}

// RESTDispatcher returns the dispatcher for short-lived processes: the
// notifications file, plus Discord over REST when a token is configured.
// No gateway connection is opened.
func (e Env) RESTDispatcher() effectors.Multi {
	out := effectors.Multi{effectors.NewFileDispatcher(e.StatePath)}
	if e.DiscordToken == "" || e.DiscordChannel == "" {
		return out
	}
	session, err := discordgo.New("Bot " + e.DiscordToken)
	if err != nil {
		logging.Warn("config", "discord session: %v", err)
		return out
	}
	return append(out, effectors.NewDiscordDispatcher(
		func() *discordgo.Session { return session },
		e.DiscordChannel, e.DiscordOwner,
	))
}

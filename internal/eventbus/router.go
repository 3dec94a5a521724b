package eventbus

import (
	"furitingoasis/soilstation/internal/command"
	"furitingoasis/soilstation/internal/logger"
)

// Router owns the two channels inbound payloads end up on: decoded commands
// and decode failures.
type Router struct {
	Commands *Bus[command.Command]
	Errors   *Bus[*command.Error]
}

func NewRouter(log *logger.Logger) *Router {
	return &Router{
		Commands: New[command.Command]("commands", log),
		Errors:   New[*command.Error]("command-errors", log),
	}
}

// Ingest decodes payload and publishes the outcome on exactly one bus. The
// returned values mirror what was published.
func (r *Router) Ingest(payload []byte) (command.Command, *command.Error) {
	cmd, err := command.Parse(payload)
	if err != nil {
		r.Errors.Publish(err)
		return command.Command{}, err
	}
	r.Commands.Publish(cmd)
	return cmd, nil
}

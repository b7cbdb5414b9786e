package broker

import (
	"testing"

	"tasknode/internal/models"
	"tasknode/internal/tasks"
)

func TestSubject(t *testing.T) {
	network := models.Network(7)
	tests := []struct {
		name string
		ev   tasks.Event
		want string
	}{
		{
			name: "network event",
			ev:   tasks.Event{Kind: tasks.EventGatewayRegistered, Network: &network},
			want: "tasks.7.gateway_registered",
		},
		{
			name: "task event",
			ev:   tasks.Event{Kind: tasks.EventTaskCreated},
			want: "tasks.all.task_created",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Subject(tt.ev); got != tt.want {
				t.Errorf("Subject() = %q, want %q", got, tt.want)
			}
		})
	}
}

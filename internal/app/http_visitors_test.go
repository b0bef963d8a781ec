package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"agora/api/internal/email"
	"agora/api/internal/store"
)

func newVisitorEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	env.store.groups["grp_1"] = store.Group{ID: "grp_1", Name: "Council"}
	env.store.addUser("u_admin", "Ada")
	env.store.addUser("u_member", "Mel")
	env.store.addMember("grp_1", "u_admin", "admin")
	env.store.addMember("grp_1", "u_member", "member")
	env.store.polls["pol_1"] = store.Poll{ID: "pol_1", GroupID: "grp_1", AuthorID: "u_other", Title: "Lunch options"}
	return env
}

func decodeJSON(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode response %q: %v", body, err)
	}
	return out
}

func TestCreateVisitorSendsOneInvitation(t *testing.T) {
	env := newVisitorEnv(t)

	rr := env.do(t, http.MethodPost, "/api/visitors", env.token(t, "u_admin"),
		`{"poll_id":"pol_1","visitor":{"name":"Robin","email":"robin@example.com"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if len(env.store.visitors) != 1 {
		t.Fatalf("visitors = %d, want 1", len(env.store.visitors))
	}
	if env.mailer.count() != 1 {
		t.Fatalf("emails = %d, want 1", env.mailer.count())
	}
	if strings.Contains(rr.Body.String(), "invitation_token") {
		t.Fatalf("response leaks invitation token: %s", rr.Body.String())
	}

	var visitor store.Visitor
	for _, v := range env.store.visitors {
		visitor = v
	}
	sent := env.mailer.sent[0]
	wantURL := "http://app.test/polls/pol_1?invitation_token=" + visitor.InvitationToken
	if sent.InviteURL != wantURL || sent.To != "robin@example.com" || sent.PollTitle != "Lunch options" {
		t.Fatalf("unexpected invitation %+v", sent)
	}
}

func TestCreateVisitorRequiresPollAdmin(t *testing.T) {
	env := newVisitorEnv(t)

	rr := env.do(t, http.MethodPost, "/api/visitors", env.token(t, "u_member"),
		`{"poll_id":"pol_1","visitor":{"email":"robin@example.com"}}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
	if len(env.store.visitors) != 0 || env.mailer.count() != 0 {
		t.Fatalf("forbidden request changed state: visitors=%d emails=%d", len(env.store.visitors), env.mailer.count())
	}

	rr = env.do(t, http.MethodPost, "/api/visitors", "", `{"poll_id":"pol_1","visitor":{"email":"robin@example.com"}}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("anonymous status = %d, want 403", rr.Code)
	}
}

func TestCreateVisitorAllowsPollAuthor(t *testing.T) {
	env := newVisitorEnv(t)
	poll := env.store.polls["pol_1"]
	poll.AuthorID = "u_member"
	env.store.polls["pol_1"] = poll

	rr := env.do(t, http.MethodPost, "/api/visitors", env.token(t, "u_member"),
		`{"poll_id":"pol_1","visitor":{"email":"robin@example.com"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestCreateVisitorValidatesEmail(t *testing.T) {
	env := newVisitorEnv(t)

	rr := env.do(t, http.MethodPost, "/api/visitors", env.token(t, "u_admin"),
		`{"poll_id":"pol_1","visitor":{"email":"not-an-email"}}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	if env.mailer.count() != 0 {
		t.Fatalf("emails = %d, want 0", env.mailer.count())
	}
}

func TestCreateVisitorReinvitesRevokedVisitor(t *testing.T) {
	env := newVisitorEnv(t)
	env.store.visitors["vis_1"] = store.Visitor{
		ID: "vis_1", PollID: "pol_1", Email: "robin@example.com", InvitationToken: "tok-1", Revoked: true,
	}

	rr := env.do(t, http.MethodPost, "/api/visitors", env.token(t, "u_admin"),
		`{"poll_id":"pol_1","visitor":{"email":"Robin@Example.com"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if len(env.store.visitors) != 1 {
		t.Fatalf("visitors = %d, want 1", len(env.store.visitors))
	}
	if env.store.visitors["vis_1"].Revoked {
		t.Fatal("visitor still revoked")
	}
	if env.mailer.count() != 1 {
		t.Fatalf("emails = %d, want 1", env.mailer.count())
	}
}

func TestCreateVisitorSurvivesMailFailure(t *testing.T) {
	env := newVisitorEnv(t)
	env.mailer.sendFn = func(email.VisitorInvitation) error { return errors.New("smtp down") }

	rr := env.do(t, http.MethodPost, "/api/visitors", env.token(t, "u_admin"),
		`{"poll_id":"pol_1","visitor":{"email":"robin@example.com"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(env.store.visitors) != 1 {
		t.Fatalf("visitors = %d, want 1", len(env.store.visitors))
	}
}

func TestDeliverVisitorInvitationSkips(t *testing.T) {
	tests := []struct {
		name       string
		configured bool
		revoked    bool
	}{
		{name: "email not configured", configured: false},
		{name: "revoked visitor", configured: true, revoked: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newVisitorEnv(t)
			env.mailer.configured = tt.configured
			env.store.visitors["vis_1"] = store.Visitor{ID: "vis_1", PollID: "pol_1", Email: "a@example.com", InvitationToken: "tok", Revoked: tt.revoked}

			env.service.enqueueInvitation(t.Context(), env.store.visitors["vis_1"])
			if env.mailer.count() != 0 {
				t.Fatalf("emails = %d, want 0", env.mailer.count())
			}
		})
	}
}

func TestRevokeVisitor(t *testing.T) {
	tests := []struct {
		name        string
		actor       string
		wantStatus  int
		wantRevoked bool
	}{
		{name: "group admin", actor: "u_admin", wantStatus: http.StatusOK, wantRevoked: true},
		{name: "member", actor: "u_member", wantStatus: http.StatusForbidden},
		{name: "anonymous", wantStatus: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newVisitorEnv(t)
			env.store.visitors["vis_1"] = store.Visitor{ID: "vis_1", PollID: "pol_1", Email: "a@example.com", InvitationToken: "tok"}
			token := ""
			if tt.actor != "" {
				token = env.token(t, tt.actor)
			}

			rr := env.do(t, http.MethodDelete, "/api/visitors/vis_1", token, "")
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := env.store.visitors["vis_1"].Revoked; got != tt.wantRevoked {
				t.Fatalf("revoked = %v, want %v", got, tt.wantRevoked)
			}
		})
	}
}

func TestUpdateVisitor(t *testing.T) {
	tests := []struct {
		name       string
		actor      string
		body       string
		wantStatus int
		wantName   string
		wantEmail  string
	}{
		{
			name:       "visitor with token",
			body:       `{"invitation_token":"tok-1","visitor":{"name":"Robin B","email":"robin.b@example.com"}}`,
			wantStatus: http.StatusOK,
			wantName:   "Robin B",
			wantEmail:  "robin.b@example.com",
		},
		{
			name:       "token in payload is unpermitted",
			body:       `{"invitation_token":"tok-1","visitor":{"name":"Robin B","invitation_token":"mine"}}`,
			wantStatus: http.StatusBadRequest,
			wantName:   "Robin",
			wantEmail:  "robin@example.com",
		},
		{
			name:       "signed in user with valid token",
			actor:      "u_admin",
			body:       `{"invitation_token":"tok-1","visitor":{"name":"Robin B"}}`,
			wantStatus: http.StatusForbidden,
			wantName:   "Robin",
			wantEmail:  "robin@example.com",
		},
		{
			name:       "wrong token",
			body:       `{"invitation_token":"nope","visitor":{"name":"Robin B"}}`,
			wantStatus: http.StatusForbidden,
			wantName:   "Robin",
			wantEmail:  "robin@example.com",
		},
		{
			name:       "token of another visitor",
			body:       `{"invitation_token":"tok-2","visitor":{"name":"Robin B"}}`,
			wantStatus: http.StatusForbidden,
			wantName:   "Robin",
			wantEmail:  "robin@example.com",
		},
		{
			name:       "invalid email",
			body:       `{"invitation_token":"tok-1","visitor":{"email":"nope"}}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantName:   "Robin",
			wantEmail:  "robin@example.com",
		},
		{
			name:       "email of another visitor on the poll",
			body:       `{"invitation_token":"tok-1","visitor":{"email":"SAM@example.com"}}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantName:   "Robin",
			wantEmail:  "robin@example.com",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newVisitorEnv(t)
			env.store.visitors["vis_1"] = store.Visitor{ID: "vis_1", PollID: "pol_1", Name: "Robin", Email: "robin@example.com", InvitationToken: "tok-1"}
			env.store.visitors["vis_2"] = store.Visitor{ID: "vis_2", PollID: "pol_1", Name: "Sam", Email: "sam@example.com", InvitationToken: "tok-2"}
			token := ""
			if tt.actor != "" {
				token = env.token(t, tt.actor)
			}

			rr := env.do(t, http.MethodPatch, "/api/visitors/vis_1", token, tt.body)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d body=%s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			got := env.store.visitors["vis_1"]
			if got.Name != tt.wantName || got.Email != tt.wantEmail {
				t.Fatalf("visitor = %q <%s>, want %q <%s>", got.Name, got.Email, tt.wantName, tt.wantEmail)
			}
			if got.InvitationToken != "tok-1" {
				t.Fatalf("token changed to %q", got.InvitationToken)
			}
		})
	}
}

func TestUpdateVisitorRejectsRevoked(t *testing.T) {
	env := newVisitorEnv(t)
	env.store.visitors["vis_1"] = store.Visitor{ID: "vis_1", PollID: "pol_1", Name: "Robin", InvitationToken: "tok-1", Revoked: true}

	rr := env.do(t, http.MethodPost, "/api/visitors/vis_1?invitation_token=tok-1", "", `{"visitor":{"name":"X"}}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

func TestVisitorMeAndPollAccess(t *testing.T) {
	env := newVisitorEnv(t)
	env.store.visitors["vis_1"] = store.Visitor{ID: "vis_1", PollID: "pol_1", Name: "Robin", InvitationToken: "tok-1"}

	rr := env.do(t, http.MethodGet, "/api/visitors/me?invitation_token=tok-1", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("me status = %d", rr.Code)
	}
	body := decodeJSON(t, rr.Body.Bytes())
	polls := body["polls"].([]any)
	if polls[0].(map[string]any)["id"] != "pol_1" {
		t.Fatalf("unexpected poll %v", polls[0])
	}

	if rr := env.do(t, http.MethodGet, "/api/polls/pol_1?invitation_token=tok-1", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("poll with token status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/polls/pol_1", "", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("anonymous poll status = %d, want 403", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/visitors/me", "", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("me without token status = %d, want 403", rr.Code)
	}
}

func TestListVisitorsRequiresPollAdmin(t *testing.T) {
	env := newVisitorEnv(t)
	env.store.visitors["vis_1"] = store.Visitor{ID: "vis_1", PollID: "pol_1", Email: "a@example.com", InvitationToken: "tok-1"}

	if rr := env.do(t, http.MethodGet, "/api/polls/pol_1/visitors", env.token(t, "u_member"), ""); rr.Code != http.StatusForbidden {
		t.Fatalf("member status = %d, want 403", rr.Code)
	}
	rr := env.do(t, http.MethodGet, "/api/polls/pol_1/visitors", env.token(t, "u_admin"), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("admin status = %d", rr.Code)
	}
	if visitors := decodeJSON(t, rr.Body.Bytes())["visitors"].([]any); len(visitors) != 1 {
		t.Fatalf("visitors = %d, want 1", len(visitors))
	}
}

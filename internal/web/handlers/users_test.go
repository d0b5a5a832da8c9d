package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func registerBody(t *testing.T, userID string, images []string) map[string]any {
	t.Helper()
	return map[string]any{
		"name":   "Carol",
		"email":  "carol@example.com",
		"userId": userID,
		"images": images,
	}
}

func TestUsersHandler_Register_Success(t *testing.T) {
	env := newTestEnv(t)
	handler := NewUsersHandler(env.service, nil)

	// Six usable faces, two black frames and two undecodable payloads.
	images := solidFrames(t, 40, 6)
	images = append(images, solidFrame(t, 0), solidFrame(t, 0), "data:image/png;base64,!!!", "")

	recorder := httptest.NewRecorder()
	handler.Register(recorder, jsonRequest(t, http.MethodPost, "/api/v1/register", registerBody(t, "CS-03", images), classSession()))

	assertStatusCode(t, recorder, http.StatusCreated)
	var response RegisterResponse
	parseJSONResponse(t, recorder, &response)

	if response.EncodingsCount != 6 || response.ImagesProcessed != 6 {
		t.Errorf("expected 6 encodings, got %+v", response)
	}
	if response.ClassCode != "CS101" || response.ClassName != "Computer Science - Year 1" {
		t.Errorf("unexpected class in response %+v", response)
	}

	stored, _ := env.identities.GetIdentity(t.Context(), "CS101", "CS-03")
	if stored == nil {
		t.Fatal("identity was not stored")
	}
	if stored.Department != "Computer Science" {
		t.Errorf("department should default to the session's, got %q", stored.Department)
	}
}

func TestUsersHandler_Register_MissingField(t *testing.T) {
	tests := []struct {
		name  string
		drop  string
		field string
	}{
		{"name", "name", "name"},
		{"email", "email", "email"},
		{"user id", "userId", "userId"},
		{"images", "images", "images"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			handler := NewUsersHandler(env.service, nil)

			body := registerBody(t, "CS-03", solidFrames(t, 40, 10))
			delete(body, tt.drop)

			recorder := httptest.NewRecorder()
			handler.Register(recorder, jsonRequest(t, http.MethodPost, "/api/v1/register", body, classSession()))

			assertStatusCode(t, recorder, http.StatusBadRequest)
			assertJSONError(t, recorder, "missing required field: "+tt.field)
		})
	}
}

func TestUsersHandler_Register_Validation(t *testing.T) {
	tests := []struct {
		name   string
		images []string
	}{
		{"too few images", solidFrames(t, 40, 9)},
		{"too few faces", append(solidFrames(t, 40, 4), solidFrames(t, 0, 6)...)},
		{"too many images", solidFrames(t, 40, 31)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			handler := NewUsersHandler(env.service, nil)

			recorder := httptest.NewRecorder()
			handler.Register(recorder, jsonRequest(t, http.MethodPost, "/api/v1/register", registerBody(t, "CS-03", tt.images), classSession()))

			assertStatusCode(t, recorder, http.StatusBadRequest)
			if n, _ := env.identities.CountIdentities(t.Context(), "CS101"); n != 1 {
				t.Errorf("nothing should be stored, class has %d users", n)
			}
		})
	}
}

func TestUsersHandler_Register_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	handler := NewUsersHandler(env.service, nil)

	recorder := httptest.NewRecorder()
	handler.Register(recorder, jsonRequest(t, http.MethodPost, "/api/v1/register", registerBody(t, "CS-01", solidFrames(t, 40, 10)), classSession()))

	assertStatusCode(t, recorder, http.StatusConflict)
	assertJSONError(t, recorder, "user CS-01 already exists in class CS101")
}

func TestUsersHandler_Register_StoreError(t *testing.T) {
	env := newTestEnv(t)
	env.identities.CreateError = errors.New("disk full")
	handler := NewUsersHandler(env.service, nil)

	recorder := httptest.NewRecorder()
	handler.Register(recorder, jsonRequest(t, http.MethodPost, "/api/v1/register", registerBody(t, "CS-03", solidFrames(t, 40, 10)), classSession()))

	assertStatusCode(t, recorder, http.StatusInternalServerError)
}

func TestUsersHandler_Register_Unauthorized(t *testing.T) {
	env := newTestEnv(t)
	handler := NewUsersHandler(env.service, nil)

	recorder := httptest.NewRecorder()
	handler.Register(recorder, jsonRequest(t, http.MethodPost, "/api/v1/register", registerBody(t, "CS-03", nil), nil))

	assertStatusCode(t, recorder, http.StatusUnauthorized)
}

func TestUsersHandler_List(t *testing.T) {
	env := newTestEnv(t)
	handler := NewUsersHandler(env.service, nil)

	recorder := httptest.NewRecorder()
	handler.List(recorder, jsonRequest(t, http.MethodGet, "/api/v1/users", nil, classSession()))

	assertStatusCode(t, recorder, http.StatusOK)
	var response struct {
		Users     []UserResponse `json:"users"`
		Count     int            `json:"count"`
		ClassCode string         `json:"class_code"`
	}
	parseJSONResponse(t, recorder, &response)

	if response.Count != 1 || len(response.Users) != 1 {
		t.Fatalf("expected 1 user, got %+v", response)
	}
	if response.Users[0].UserID != "CS-01" || response.Users[0].EncodingsCount != 2 {
		t.Errorf("unexpected user %+v", response.Users[0])
	}
	if response.ClassCode != "CS101" {
		t.Errorf("expected class CS101, got %s", response.ClassCode)
	}
}

func TestUsersHandler_List_Search(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"alice", 1},
		{"%C3%81LI", 1},
		{"cs-01", 1},
		{"bob", 0},
		{"", 1},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			env := newTestEnv(t)
			handler := NewUsersHandler(env.service, nil)

			recorder := httptest.NewRecorder()
			handler.List(recorder, jsonRequest(t, http.MethodGet, "/api/v1/users?q="+tt.query, nil, classSession()))

			assertStatusCode(t, recorder, http.StatusOK)
			var response struct {
				Count int `json:"count"`
			}
			parseJSONResponse(t, recorder, &response)
			if response.Count != tt.want {
				t.Errorf("q=%s: expected %d users, got %d", tt.query, tt.want, response.Count)
			}
		})
	}
}

func TestUsersHandler_List_AdminSeesOwnTenantOnly(t *testing.T) {
	env := newTestEnv(t)
	handler := NewUsersHandler(env.service, nil)

	recorder := httptest.NewRecorder()
	handler.List(recorder, jsonRequest(t, http.MethodGet, "/api/v1/users", nil, adminSession()))

	assertStatusCode(t, recorder, http.StatusOK)
	var response map[string]any
	parseJSONResponse(t, recorder, &response)
	if response["count"] != float64(0) {
		t.Errorf("expected no users for the admin tenant, got %v", response["count"])
	}
}

func TestUsersHandler_Delete(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		want   int
	}{
		{"own class", "CS-01", http.StatusOK},
		{"other class", "EE-01", http.StatusNotFound},
		{"unknown", "XX-99", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			handler := NewUsersHandler(env.service, nil)

			req := jsonRequest(t, http.MethodDelete, "/api/v1/users/"+tt.userID, nil, classSession())
			req = requestWithChiParams(req, map[string]string{"userId": tt.userID})
			recorder := httptest.NewRecorder()

			handler.Delete(recorder, req)

			assertStatusCode(t, recorder, tt.want)
			var response map[string]any
			parseJSONResponse(t, recorder, &response)
			if response["deleted"] != (tt.want == http.StatusOK) {
				t.Errorf("unexpected deleted flag %v", response["deleted"])
			}
		})
	}
}

func TestUsersHandler_Delete_RemovesFromMatching(t *testing.T) {
	env := newTestEnv(t)
	handler := NewUsersHandler(env.service, nil)

	req := requestWithChiParams(jsonRequest(t, http.MethodDelete, "/api/v1/users/CS-01", nil, classSession()),
		map[string]string{"userId": "CS-01"})
	handler.Delete(httptest.NewRecorder(), req)

	owners, _ := env.identities.ListEncodingOwners(t.Context(), "CS101")
	if len(owners) != 0 {
		t.Errorf("deleted user should not be matchable, got %d owners", len(owners))
	}
}

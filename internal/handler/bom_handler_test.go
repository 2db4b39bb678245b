package handler

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bitfantasy/nimo-bom/internal/config"
	"github.com/bitfantasy/nimo-bom/internal/repository"
	"github.com/bitfantasy/nimo-bom/internal/service"
	"github.com/bitfantasy/nimo-bom/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func setupBOMTest(t *testing.T) *gin.Engine {
	t.Helper()
	db := testutil.SetupTestDB(t)

	cfg := &config.Config{BOM: config.BOMConfig{
		MaxDepth:         10,
		NumberPrefix:     "BOM",
		SequenceBackend:  config.SequenceBackendDatabase,
		SequenceAttempts: 3,
		Timezone:         "UTC",
	}}
	svc, err := service.NewServices(repository.NewRepositories(db), nil, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new services: %v", err)
	}

	router := testutil.SetupRouter()
	NewHealthHandler(db, nil, "test", "today").RegisterRoutes(router)
	api := testutil.AuthGroup(router, "/api/v1")
	NewBOMHandler(svc.BOM).RegisterRoutes(api)
	return router
}

func createLaptop(t *testing.T, router *gin.Engine) map[string]interface{} {
	t.Helper()
	w := testutil.DoRequest(router, "POST", "/api/v1/boms", testutil.LaptopBOM(), testutil.DefaultTestToken())
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return testutil.ParseResponse(w)["data"].(map[string]interface{})
}

func responseCode(w *httptest.ResponseRecorder) float64 {
	code, _ := testutil.ParseResponse(w)["code"].(float64)
	return code
}

func TestBOMCreate(t *testing.T) {
	router := setupBOMTest(t)
	doc := createLaptop(t, router)

	if doc["total_material_cost"] != 56300.0 {
		t.Errorf("Expected total 56300, got %v", doc["total_material_cost"])
	}
	if doc["status"] != "DRAFT" {
		t.Errorf("Expected status DRAFT, got %v", doc["status"])
	}
	if doc["my_company_name"] != "Acme" {
		t.Errorf("Expected company Acme, got %v", doc["my_company_name"])
	}
	number, _ := doc["bom_number"].(string)
	if !strings.HasPrefix(number, "BOM/") || !strings.HasSuffix(number, "/00001") {
		t.Errorf("Unexpected bom_number %q", number)
	}
	items := doc["items"].([]interface{})
	if len(items) != 3 {
		t.Fatalf("Expected 3 root items, got %d", len(items))
	}
	mb := items[0].(map[string]interface{})
	if mb["rollup_cost"] != 16300.0 {
		t.Errorf("Expected MB-001 rollup 16300, got %v", mb["rollup_cost"])
	}
}

func TestBOMCreateValidationProblems(t *testing.T) {
	router := setupBOMTest(t)

	body := testutil.LaptopBOM()
	dup := map[string]interface{}{"item_code": "X", "quantity": 1, "uom": "NOS", "rate": 1}
	body["items"] = []interface{}{dup, dup}

	w := testutil.DoRequest(router, "POST", "/api/v1/boms", body, testutil.DefaultTestToken())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	if resp["code"] != 40001.0 {
		t.Errorf("Expected code 40001, got %v", resp["code"])
	}
	problems := resp["data"].(map[string]interface{})["problems"].([]interface{})
	if len(problems) != 1 {
		t.Fatalf("Expected 1 problem, got %v", problems)
	}
	p := problems[0].(map[string]interface{})
	if p["code"] != "DUPLICATE_ITEM_CODE" || p["path"] != "items[1]" {
		t.Errorf("Unexpected problem %v", p)
	}
}

func TestBOMCreateBadRequests(t *testing.T) {
	router := setupBOMTest(t)
	token := testutil.DefaultTestToken()

	noName := testutil.LaptopBOM()
	noName["header"] = map[string]interface{}{"product_code": "LAP-001"}
	w := testutil.DoRequest(router, "POST", "/api/v1/boms", noName, token)
	if w.Code != http.StatusBadRequest || responseCode(w) != 40000 {
		t.Errorf("Expected 400/40000 for missing bom_name, got %d: %s", w.Code, w.Body.String())
	}

	badType := testutil.LaptopBOM()
	badType["header"] = map[string]interface{}{"bom_name": "Laptop", "bom_type": "PROTOTYPE"}
	w = testutil.DoRequest(router, "POST", "/api/v1/boms", badType, token)
	if w.Code != http.StatusBadRequest || responseCode(w) != 40000 {
		t.Errorf("Expected 400/40000 for unknown bom_type, got %d: %s", w.Code, w.Body.String())
	}

	req, _ := http.NewRequest("POST", "/api/v1/boms", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed JSON, got %d", w.Code)
	}
}

func TestBOMCompanyFromRequestHeader(t *testing.T) {
	router := setupBOMTest(t)

	body := testutil.LaptopBOM()
	body["header"] = map[string]interface{}{"bom_name": "Laptop"}
	raw, _ := json.Marshal(body)

	req, _ := http.NewRequest("POST", "/api/v1/boms", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testutil.DefaultTestToken())
	req.Header.Set("my_company_name", "Globex")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["my_company_name"] != "Globex" {
		t.Errorf("Expected company Globex, got %v", data["my_company_name"])
	}

	w = testutil.DoRequest(router, "POST", "/api/v1/boms", body, testutil.DefaultTestToken())
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["my_company_name"] != "default" {
		t.Errorf("Expected company default, got %v", data["my_company_name"])
	}
}

func TestBOMGet(t *testing.T) {
	router := setupBOMTest(t)
	token := testutil.DefaultTestToken()
	doc := createLaptop(t, router)

	w := testutil.DoRequest(router, "GET", "/api/v1/boms/"+doc["id"].(string), nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["bom_number"] != doc["bom_number"] {
		t.Errorf("Expected %v, got %v", doc["bom_number"], data["bom_number"])
	}

	w = testutil.DoRequest(router, "GET", "/api/v1/boms/missing", nil, token)
	if w.Code != http.StatusNotFound || responseCode(w) != 40400 {
		t.Errorf("Expected 404/40400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBOMUpdateAndRevisions(t *testing.T) {
	router := setupBOMTest(t)
	token := testutil.DefaultTestToken()
	doc := createLaptop(t, router)
	id := doc["id"].(string)

	body := testutil.LaptopBOM()
	body["header"].(map[string]interface{})["bom_name"] = "Laptop Pro"
	w := testutil.DoRequest(router, "PUT", "/api/v1/boms/"+id, body, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["revision"] != 1.0 || data["bom_name"] != "Laptop Pro" {
		t.Errorf("Unexpected update result %v", data)
	}
	if data["bom_number"] != doc["bom_number"] {
		t.Errorf("bom_number changed on update: %v -> %v", doc["bom_number"], data["bom_number"])
	}

	w = testutil.DoRequest(router, "GET", "/api/v1/boms/"+id+"/revisions", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	revs := testutil.ParseResponse(w)["data"].([]interface{})
	if len(revs) != 1 {
		t.Errorf("Expected 1 revision, got %d", len(revs))
	}

	w = testutil.DoRequest(router, "PUT", "/api/v1/boms/missing", body, token)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	w = testutil.DoRequest(router, "GET", "/api/v1/boms/missing/revisions", nil, token)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestBOMLifecycle(t *testing.T) {
	router := setupBOMTest(t)
	token := testutil.DefaultTestToken()
	id := createLaptop(t, router)["id"].(string)

	w := testutil.DoRequest(router, "POST", "/api/v1/boms/"+id+"/approve", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["status"] != "ACTIVE" || data["approved_by"] != "test-user-001" {
		t.Errorf("Unexpected approve result %v", data)
	}

	w = testutil.DoRequest(router, "POST", "/api/v1/boms/"+id+"/approve", nil, token)
	if w.Code != http.StatusConflict || responseCode(w) != 40900 {
		t.Errorf("Expected 409/40900, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(router, "POST", "/api/v1/boms/"+id+"/obsolete", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(router, "PUT", "/api/v1/boms/"+id, testutil.LaptopBOM(), token)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 updating an obsolete BOM, got %d", w.Code)
	}
	w = testutil.DoRequest(router, "POST", "/api/v1/boms/"+id+"/recalculate", nil, token)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 recalculating an obsolete BOM, got %d", w.Code)
	}
}

func TestBOMRecalculate(t *testing.T) {
	router := setupBOMTest(t)
	id := createLaptop(t, router)["id"].(string)

	w := testutil.DoRequest(router, "POST", "/api/v1/boms/"+id+"/recalculate", nil, testutil.DefaultTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["total_material_cost"] != 56300.0 || data["revision"] != 1.0 {
		t.Errorf("Unexpected recalculate result %v", data)
	}
}

func TestBOMPreview(t *testing.T) {
	router := setupBOMTest(t)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(router, "POST", "/api/v1/boms/preview", testutil.LaptopBOM(), token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["total_material_cost"] != 56300.0 || data["total_items"] != 6.0 {
		t.Errorf("Unexpected preview %v", data)
	}

	// preview is read-only and persists nothing
	w = testutil.DoRequest(router, "POST", "/api/v1/boms/preview", testutil.LaptopBOM(), testutil.ReadOnlyTestToken())
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for a read-only token, got %d", w.Code)
	}
	w = testutil.DoRequest(router, "GET", "/api/v1/boms", nil, token)
	pagination := testutil.ParseResponse(w)["data"].(map[string]interface{})["pagination"].(map[string]interface{})
	if pagination["total"] != 0.0 {
		t.Errorf("Expected no documents, got %v", pagination["total"])
	}
}

func TestBOMList(t *testing.T) {
	router := setupBOMTest(t)
	for i := 0; i < 3; i++ {
		createLaptop(t, router)
	}

	w := testutil.DoRequest(router, "GET", "/api/v1/boms?page=1&page_size=2&company=Acme", nil, testutil.ReadOnlyTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	pagination := data["pagination"].(map[string]interface{})
	if len(items) != 2 {
		t.Errorf("Expected 2 items, got %d", len(items))
	}
	if pagination["total"] != 3.0 || pagination["total_pages"] != 2.0 {
		t.Errorf("Unexpected pagination %v", pagination)
	}
	if _, ok := items[0].(map[string]interface{})["items"]; ok {
		t.Error("List should return headers only")
	}
}

func TestBOMDelete(t *testing.T) {
	router := setupBOMTest(t)
	token := testutil.DefaultTestToken()
	id := createLaptop(t, router)["id"].(string)

	w := testutil.DoRequest(router, "DELETE", "/api/v1/boms/"+id, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = testutil.DoRequest(router, "GET", "/api/v1/boms/"+id, nil, token)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", w.Code)
	}
	w = testutil.DoRequest(router, "DELETE", "/api/v1/boms/"+id, nil, token)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 deleting twice, got %d", w.Code)
	}
}

func TestBOMPermissions(t *testing.T) {
	router := setupBOMTest(t)

	w := testutil.DoRequest(router, "POST", "/api/v1/boms", testutil.LaptopBOM(), testutil.ReadOnlyTestToken())
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for read-only token, got %d", w.Code)
	}
	w = testutil.DoRequest(router, "GET", "/api/v1/boms", nil, testutil.ReadOnlyTestToken())
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 listing with read-only token, got %d", w.Code)
	}
	w = testutil.DoRequest(router, "GET", "/api/v1/boms", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}

	// bom:write edits documents but approving needs bom:approve
	writer := testutil.GenerateTestToken("u-writer", "Writer", "w@test.com", nil, []string{"bom:write"})
	w = testutil.DoRequest(router, "POST", "/api/v1/boms", testutil.LaptopBOM(), writer)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for writer, got %d: %s", w.Code, w.Body.String())
	}
	id := testutil.ParseResponse(w)["data"].(map[string]interface{})["id"].(string)
	w = testutil.DoRequest(router, "POST", "/api/v1/boms/"+id+"/approve", nil, writer)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 approving with bom:write, got %d", w.Code)
	}
	approver := testutil.GenerateTestToken("u-approver", "Approver", "p@test.com", nil, []string{"bom:*"})
	w = testutil.DoRequest(router, "POST", "/api/v1/boms/"+id+"/approve", nil, approver)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 approving with bom:*, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBOMCompanyFromTokenClaim(t *testing.T) {
	router := setupBOMTest(t)
	body := testutil.LaptopBOM()
	body["header"] = map[string]interface{}{"bom_name": "Laptop"}

	token := testutil.GenerateCompanyToken("u1", "A", "a@test.com", "Initech", nil, []string{"*"})
	w := testutil.DoRequest(router, "POST", "/api/v1/boms", body, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["my_company_name"] != "Initech" {
		t.Errorf("Expected company Initech, got %v", data["my_company_name"])
	}
}

func importRequest(t *testing.T, filename string, content []byte, header string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write(content)
	if header != "" {
		writer.WriteField("header", header)
	}
	writer.Close()

	req, _ := http.NewRequest("POST", "/api/v1/boms/import", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testutil.DefaultTestToken())
	return req
}

func templateBytes(t *testing.T) []byte {
	t.Helper()
	f, err := service.ImportTemplate()
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	defer f.Close()
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write template: %v", err)
	}
	return buf.Bytes()
}

func TestBOMImport(t *testing.T) {
	router := setupBOMTest(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, importRequest(t, "laptop.xlsx", templateBytes(t), `{"bom_name":"Imported","my_company_name":"Acme"}`))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["total_material_cost"] != 56300.0 || data["bom_name"] != "Imported" {
		t.Errorf("Unexpected import result %v", data)
	}

	// bom_name falls back to the file name
	w = httptest.NewRecorder()
	router.ServeHTTP(w, importRequest(t, "Desktop BOM.xlsx", templateBytes(t), ""))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["bom_name"] != "Desktop BOM" {
		t.Errorf("Expected bom_name from file name, got %v", data["bom_name"])
	}
}

func TestBOMImportErrors(t *testing.T) {
	router := setupBOMTest(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, importRequest(t, "notes.txt", []byte("not a spreadsheet"), ""))
	if w.Code != http.StatusBadRequest || responseCode(w) != 40000 {
		t.Errorf("Expected 400/40000 for a non-xlsx file, got %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, importRequest(t, "bom.xlsx", templateBytes(t), "{broken"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a malformed header field, got %d", w.Code)
	}

	f := excelize.NewFile()
	f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Level", "Item Code", "Quantity", "UOM", "Rate"})
	f.SetSheetRow("Sheet1", "A2", &[]interface{}{2, "DEEP", 1, "NOS", 1})
	buf, _ := f.WriteToBuffer()
	f.Close()

	w = httptest.NewRecorder()
	router.ServeHTTP(w, importRequest(t, "bom.xlsx", buf.Bytes(), ""))
	if w.Code != http.StatusBadRequest || responseCode(w) != 40001 {
		t.Errorf("Expected 400/40001 for a level jump, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBOMDownloadTemplate(t *testing.T) {
	router := setupBOMTest(t)

	w := testutil.DoRequest(router, "GET", "/api/v1/boms/import/template", nil, testutil.ReadOnlyTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != xlsxMIME {
		t.Errorf("Unexpected content type %q", ct)
	}

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("open template: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("read template: %v", err)
	}
	if len(rows) < 2 || rows[0][0] != "Level" || rows[0][1] != "Item Code" {
		t.Errorf("Unexpected template rows %v", rows)
	}
}

func TestHealth(t *testing.T) {
	router := setupBOMTest(t)

	for _, path := range []string{"/health/live", "/health/ready", "/version"} {
		w := testutil.DoRequest(router, "GET", path, nil, "")
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d: %s", path, w.Code, w.Body.String())
		}
	}

	w := testutil.DoRequest(router, "GET", "/health/ready", nil, "")
	checks := testutil.ParseResponse(w)["checks"].(map[string]interface{})
	if checks["database"] != "ok" {
		t.Errorf("Expected database ok, got %v", checks["database"])
	}
}

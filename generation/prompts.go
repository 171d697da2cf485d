package generation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// 检测阶段提示词。每个提示词是 PromptStep 的头部，设计文档跟在其后。

const promptDetectFrontend = `You are a frontend framework detector.
Detect the main frontend framework from this technical design document.
Only return one of: React, Angular, Vue, Svelte, HTML/CSS/JS Default. No explanation.

### TDD ###`

const promptDetectLanguage = `You are a backend language classifier.
Detect the most suitable backend programming language from the TDD.
Only return one of: Python, Java, Node.js, Go, Rust. No explanation.

### TDD ###`

const promptDetectBackend = `You are a backend framework detector.
Detect the main backend framework used from this technical design document.
You MUST return one and only one of the following options: FastAPI, SpringBoot, Express.js, Flask, Django.
Do NOT return 'None' or any other value. If unsure, make your best guess from the list. No explanation.

### TDD ###`

const promptDetectDatabase = `You are a database system detector.
From the following Technical Design Document (TDD), identify the specific SQL database system mentioned.

If a SQL database is explicitly mentioned, return its name (e.g., PostgreSQL, MySQL, SQL Server, Oracle, SQLite).
If no specific SQL database is mentioned but a generic 'SQL database' is implied, return 'Generic SQL'.
If no database is mentioned or it's a NoSQL database, return 'None'.

Only return the database name or 'Generic SQL' or 'None'. No explanation.

### TDD ###`

// 提取阶段提示词。同样只依赖设计文档本身。

const promptExtractUIComponents = `You are an intelligent frontend architect assistant.

From the following Technical Design Document (TDD), extract all UI components
that users interact with. For example: Registration form, Login form, Dashboard.

Return only the list in JSON: { "ui_components": [...] }.
No markdown, no prose.

### TDD ###`

const promptExtractTableSchema = `You are a database design assistant.

From the following Technical Design Document (TDD), extract all table names and their fields.

Return your answer as a valid JSON object, where keys are table names and values are arrays of column names.

No explanation. No markdown.

### TDD ###`

const promptExtractAPIEndpoints = `You are an API endpoint extraction specialist.
Your task is to meticulously parse the API design section from the provided Technical Design Document (TDD).

For each API endpoint listed, extract the following information:
1. Method: The HTTP method (e.g., POST, GET, PUT, DELETE).
2. Path: The URL path (e.g., /api/auth/register).
3. Description: A brief explanation of the endpoint's purpose.

Return your answer as a valid JSON list of objects. Each object in the list MUST have the
following keys and string values: "method", "path", "description".

DO NOT include any explanation, markdown, or additional text outside the JSON array.
CRITICAL: DO NOT wrap the JSON in markdown code fences.

### TDD ###`

// 生成阶段提示词由检测与提取结果拼装。

func buildFrontendPrompt(framework string, components []string) string {
	return fmt.Sprintf(`You are a professional AI full-stack code generator.
Generate %s form components for:
%s
Infer fields from the form name. Generate:
1. Component logic
2. Form markup
3. Basic CSS
Use kebab-case filenames. Output each file in its own markdown code block with an explicit
"filename:" hint on the fence line. No explanation outside the code blocks.`,
		framework, strings.Join(components, ", "))
}

func buildBackendPrompt(language, backend, database string, endpoints []endpoint, tables map[string][]string) string {
	endpointsJSON, _ := json.MarshalIndent(endpoints, "", "  ")

	var tablesSection strings.Builder
	if len(tables) > 0 {
		tablesSection.WriteString("\nConsider the following database table schemas for data persistence:\n")
		for name, columns := range tables {
			fmt.Fprintf(&tablesSection, "- Table %s: Columns: %s\n", name, strings.Join(columns, ", "))
		}
	}

	return fmt.Sprintf(`You are a highly skilled %s developer, specializing in the %s framework, connecting to a %s database.
Generate the necessary boilerplate code for the following API endpoints, focusing on robust data handling and persistence.

General Instructions:

Data Models:
Create data models for %s that correspond directly to the provided table schemas.
Pay close attention to appropriate field types and primary/foreign key definitions.

Request Validation:
Create request body validation or serialization structures for each endpoint that accepts a body.

API Endpoints Implementation:
For each API endpoint listed, create a corresponding endpoint handler.
POST endpoints validate incoming data, persist it, and return appropriate HTTP responses
(201 Created, 400 Bad Request, 404 Not Found, 500 Internal Server Error).
GET endpoints fetch data from the database.

Routing:
Define URL patterns or routes to map each API endpoint to its respective handler.

API Endpoints to Implement:
%s
%s
Output all code in separate markdown code blocks with explicit filenames appropriate for a %s
project structure, using a "filename:" hint on each fence line.`,
		language, backend, database, backend, string(endpointsJSON), tablesSection.String(), backend)
}

func buildSQLPrompt(database string, tables map[string][]string) string {
	schemasJSON, _ := json.MarshalIndent(tables, "", "  ")
	return fmt.Sprintf(`You are a SQL expert. Create DDL for the following schemas:
Database: %s
Schemas:
%s

Include CREATE TABLE statements with appropriate column types and primary/foreign keys.
Output valid SQL in a markdown code block.`,
		database, string(schemasJSON))
}

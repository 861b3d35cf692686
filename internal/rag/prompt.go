package rag

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/floatchat/floatchat/internal/geo"
	"github.com/floatchat/floatchat/internal/knowledge"
)

// schemaDoc describes the ARGO tables the generator is allowed to query.
// It is sent verbatim to the model so column names must stay in sync with
// the migrations under db/migrations.
const schemaDoc = `-- FloatChat Database Schema --

Table: floats
Columns:
- float_id (VARCHAR, PRIMARY KEY): Unique identifier for the float
- wmo_id (VARCHAR): World Meteorological Organization ID
- project_name (VARCHAR): Project name (e.g., ARGO, SOLO)
- pi_name (VARCHAR): Principal Investigator name
- platform_type (VARCHAR): Type of float platform
- deployment_date (TIMESTAMP): Date when float was deployed
- last_update (TIMESTAMP): Last data update timestamp

Table: cycles
Columns:
- cycle_id (VARCHAR, PRIMARY KEY): Unique identifier for the cycle
- float_id (VARCHAR, FOREIGN KEY): References floats.float_id
- cycle_number (INTEGER): Cycle number for this float
- profile_date (TIMESTAMP): Date of the profile measurement
- latitude (FLOAT): Latitude of measurement location
- longitude (FLOAT): Longitude of measurement location
- profile_type (VARCHAR): Type of profile (A=ascending, D=descending)

Table: profiles
Columns:
- profile_id (VARCHAR, PRIMARY KEY): Unique identifier for the profile point
- cycle_id (VARCHAR, FOREIGN KEY): References cycles.cycle_id
- pressure (FLOAT): Pressure measurement in dbar
- temperature (FLOAT): Temperature measurement in Celsius
- salinity (FLOAT): Salinity measurement in PSU
- depth (FLOAT): Depth in meters
- quality_flag (INTEGER): Quality control flag (1=good, 2=probably good, etc.)`

// safetyConstraints is embedded in every generation prompt. The generated
// SQL is still validated independently before execution; these rules just
// steer the model toward output that passes validation.
const safetyConstraints = `CRITICAL SAFETY CONSTRAINTS:
1. ONLY generate SELECT statements. Never generate INSERT, UPDATE, DELETE, DROP, CREATE, or ALTER statements.
2. Always include appropriate WHERE clauses to limit result size.
3. Use proper JOINs to connect related tables.
4. Include quality control filters (quality_flag IN (1, 2)) for measurement data.
5. Handle NULL values appropriately with IS NOT NULL or COALESCE.
6. Use LIMIT clause for queries that might return large datasets.
7. Always use parameterized queries to prevent SQL injection (though this will be handled by the database layer).
8. When location context is provided, use geographic proximity queries with proper coordinate filtering.`

// fewShotExample pairs a natural language query with its target SQL.
type fewShotExample struct {
	Query string
	SQL   string
}

var fewShotExamples = []fewShotExample{
	{
		Query: "Show me all temperature measurements from float 5904471",
		SQL:   "SELECT p.temperature, p.depth, c.profile_date, c.latitude, c.longitude FROM profiles p JOIN cycles c ON p.cycle_id = c.cycle_id JOIN floats f ON c.float_id = f.float_id WHERE f.float_id = '5904471' AND p.temperature IS NOT NULL ORDER BY c.profile_date, p.depth;",
	},
	{
		Query: "Find the deepest measurement for each float in the Pacific Ocean",
		SQL:   "SELECT f.float_id, f.platform_type, MAX(p.depth) as max_depth, COUNT(p.profile_id) as total_measurements FROM floats f JOIN cycles c ON f.float_id = c.float_id JOIN profiles p ON c.cycle_id = p.cycle_id WHERE c.longitude BETWEEN -180 AND -60 AND c.latitude BETWEEN -60 AND 60 GROUP BY f.float_id, f.platform_type ORDER BY max_depth DESC;",
	},
	{
		Query: "What is the average salinity at 1000 meter depth across all floats?",
		SQL:   "SELECT AVG(p.salinity) as avg_salinity, COUNT(*) as measurement_count FROM profiles p WHERE p.depth BETWEEN 950 AND 1050 AND p.salinity IS NOT NULL AND p.quality_flag IN (1, 2);",
	},
	{
		Query: "Show me temperature measurements near Mumbai",
		SQL:   "SELECT p.temperature, p.depth, c.profile_date, c.latitude, c.longitude, (6371 * acos(cos(radians(19.0760)) * cos(radians(c.latitude)) * cos(radians(c.longitude) - radians(72.8777)) + sin(radians(19.0760)) * sin(radians(c.latitude)))) as distance_km FROM profiles p JOIN cycles c ON p.cycle_id = c.cycle_id WHERE (6371 * acos(cos(radians(19.0760)) * cos(radians(c.latitude)) * cos(radians(c.longitude) - radians(72.8777)) + sin(radians(19.0760)) * sin(radians(c.latitude)))) <= 500 AND p.temperature IS NOT NULL AND p.quality_flag IN (1, 2) ORDER BY distance_km, c.profile_date;",
	},
}

// PromptInput carries everything ComposePrompt needs to assemble one
// generation prompt. Context and Geo may be empty.
type PromptInput struct {
	Query   string
	History string
	Context []knowledge.Result
	Geo     *geo.QueryContext
}

// geoFallbackGuidance is appended only when a geographic constraint was
// injected, so the model knows how to recover from empty result sets.
const geoFallbackGuidance = `

IF NO RESULTS FOUND:
- Try removing geographic constraints to check if data exists
- Consider using broader geographic boundaries
- Check if location is outside ARGO deployment areas
- Try querying for global data with ORDER BY distance from target location`

// ComposePrompt assembles the full Text-to-SQL prompt: conversation
// history, safety constraints, schema, retrieved context, geographic
// context, few-shot examples, then the user query and generation rules.
func ComposePrompt(in PromptInput) string {
	var b strings.Builder

	b.WriteString("You are a specialized SQL generator for oceanographic ARGO float data. Your task is to convert natural language queries into precise SQL SELECT statements.\n")

	if in.History != "" {
		b.WriteString("\nCONVERSATION HISTORY:\n")
		b.WriteString(in.History)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(safetyConstraints)
	b.WriteString("\n\nDATABASE SCHEMA:\n")
	b.WriteString(schemaDoc)
	b.WriteString("\n")

	if len(in.Context) > 0 {
		b.WriteString("\nRELEVANT CONTEXT FROM DATABASE:\n")
		for i, doc := range in.Context {
			fmt.Fprintf(&b, "\nContext %d (Similarity: %.3f):\n", i+1, doc.Similarity)
			b.WriteString(doc.Content)
			b.WriteString("\nMetadata: ")
			b.WriteString(marshalMetadata(doc.Metadata))
			b.WriteString("\n")
			b.WriteString(strings.Repeat("-", 80))
			b.WriteString("\n")
		}
	}

	if in.Geo != nil {
		b.WriteString("\nGEOGRAPHIC CONTEXT:\n")
		b.WriteString(in.Geo.ContextBlock)
		b.WriteString("\n")
	}

	b.WriteString("\nFEW-SHOT EXAMPLES:\n")
	for i, ex := range fewShotExamples {
		fmt.Fprintf(&b, "\nExample %d:\n", i+1)
		fmt.Fprintf(&b, "Human: %s\n", ex.Query)
		fmt.Fprintf(&b, "SQL: %s\n", ex.SQL)
		b.WriteString(strings.Repeat("-", 40))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nUSER QUERY: %s\n", in.Query)

	b.WriteString(`
Based on the provided context, database schema, conversation history, and examples, generate a SQL SELECT statement that accurately answers the user's query.

IMPORTANT GUIDELINES:
- Only generate a single SQL SELECT statement
- Use proper table aliases for readability
- Include appropriate JOINs to connect related tables
- Add quality control filters for measurement data
- Use LIMIT if the query might return many rows
- Handle NULL values appropriately
- If the user query mentions location, map, or coordinates, you MUST include the ` + "`c.latitude`" + ` and ` + "`c.longitude`" + ` columns from the ` + "`cycles`" + ` table in the SELECT statement.
- When geographic context is provided, use the Haversine formula for proximity searches with the cycles table (aliased as 'c')
- Return only the SQL statement, no explanations
- PAY SPECIAL ATTENTION TO THE CONVERSATION HISTORY ABOVE - use it to understand the context of follow-up questions
- If the user asks a follow-up question without specifying details, infer the context from the previous conversation`)

	if in.Geo != nil {
		b.WriteString(geoFallbackGuidance)
	}

	b.WriteString("\n\nSQL:")

	return b.String()
}

func marshalMetadata(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

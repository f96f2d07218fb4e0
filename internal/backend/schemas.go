package backend

// Definition is the schema for one table: its indexes and access rules.
type Definition struct {
	Table  string
	Drop   string
	Create string
}

// SQL returns the statements to run. With reset the table is dropped first,
// discarding its rows and anything that depends on it.
func (d Definition) SQL(reset bool) string {
	if reset {
		return d.Drop + d.Create
	}
	return d.Create
}

// Schema returns the table definitions for a dialect, exercises first.
func Schema(dialect Dialect) []Definition {
	if dialect == DialectSQLite {
		return []Definition{
			{Table: exercisesTable, Drop: sqliteExercisesDrop, Create: sqliteExercisesSchema},
			{Table: resultsTable, Drop: sqliteResultsDrop, Create: sqliteResultsSchema},
		}
	}

	return []Definition{
		{Table: exercisesTable, Drop: postgresExercisesDrop, Create: postgresExercisesSchema},
		{Table: resultsTable, Drop: postgresResultsDrop, Create: postgresResultsSchema},
	}
}

const postgresExercisesDrop = `
DROP TABLE IF EXISTS public.soap_exercises CASCADE;
`

const postgresExercisesSchema = `
CREATE TABLE IF NOT EXISTS public.soap_exercises (
    id TEXT PRIMARY KEY,
    language TEXT NOT NULL,
    soap_section TEXT NOT NULL,
    backstory JSONB NOT NULL,
    task JSONB NOT NULL,
    sentence JSONB NOT NULL,
    word_bank JSONB NOT NULL,
    validation JSONB NOT NULL,
    timing JSONB NOT NULL,
    difficulty JSONB NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT TIMEZONE('utc', NOW())
);

CREATE INDEX IF NOT EXISTS idx_soap_exercises_section ON public.soap_exercises(soap_section);
CREATE INDEX IF NOT EXISTS idx_soap_exercises_difficulty ON public.soap_exercises((difficulty->>'level'));

ALTER TABLE public.soap_exercises ENABLE ROW LEVEL SECURITY;

DROP POLICY IF EXISTS "Allow public read access" ON public.soap_exercises;
CREATE POLICY "Allow public read access"
    ON public.soap_exercises
    FOR SELECT
    USING (true);

DROP POLICY IF EXISTS "Allow authenticated insert" ON public.soap_exercises;
CREATE POLICY "Allow authenticated insert"
    ON public.soap_exercises
    FOR INSERT
    TO authenticated
    WITH CHECK (true);
`

const postgresResultsDrop = `
DROP TABLE IF EXISTS public.soap_test_results CASCADE;
`

const postgresResultsSchema = `
CREATE TABLE IF NOT EXISTS public.soap_test_results (
    id UUID DEFAULT gen_random_uuid() PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES auth.users(id) ON DELETE CASCADE,
    test_date TIMESTAMP WITH TIME ZONE DEFAULT TIMEZONE('utc', NOW()),
    exercises_attempted INTEGER NOT NULL,
    exercises_correct INTEGER NOT NULL,
    total_time_seconds INTEGER NOT NULL,
    average_time_per_exercise NUMERIC(10, 2),
    exercises_data JSONB NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT TIMEZONE('utc', NOW())
);

CREATE INDEX IF NOT EXISTS idx_soap_test_results_user ON public.soap_test_results(user_id);
CREATE INDEX IF NOT EXISTS idx_soap_test_results_date ON public.soap_test_results(test_date DESC);

ALTER TABLE public.soap_test_results ENABLE ROW LEVEL SECURITY;

DROP POLICY IF EXISTS "Users can read own results" ON public.soap_test_results;
CREATE POLICY "Users can read own results"
    ON public.soap_test_results
    FOR SELECT
    USING (auth.uid() = user_id);

DROP POLICY IF EXISTS "Users can insert own results" ON public.soap_test_results;
CREATE POLICY "Users can insert own results"
    ON public.soap_test_results
    FOR INSERT
    WITH CHECK (auth.uid() = user_id);
`

// SQLite has no row level security; ownership is left to the caller.
const sqliteExercisesDrop = `
DROP TABLE IF EXISTS soap_exercises;
`

const sqliteExercisesSchema = `
CREATE TABLE IF NOT EXISTS soap_exercises (
    id TEXT PRIMARY KEY,
    language TEXT NOT NULL,
    soap_section TEXT NOT NULL,
    backstory TEXT NOT NULL,
    task TEXT NOT NULL,
    sentence TEXT NOT NULL,
    word_bank TEXT NOT NULL,
    validation TEXT NOT NULL,
    timing TEXT NOT NULL,
    difficulty TEXT NOT NULL,
    created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_soap_exercises_section ON soap_exercises (soap_section);
`

const sqliteResultsDrop = `
DROP TABLE IF EXISTS soap_test_results;
`

const sqliteResultsSchema = `
CREATE TABLE IF NOT EXISTS soap_test_results (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES auth_users(id) ON DELETE CASCADE,
    test_date TEXT DEFAULT CURRENT_TIMESTAMP,
    exercises_attempted INTEGER NOT NULL,
    exercises_correct INTEGER NOT NULL,
    total_time_seconds INTEGER NOT NULL,
    average_time_per_exercise REAL,
    exercises_data TEXT NOT NULL,
    created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_soap_test_results_user ON soap_test_results (user_id);
CREATE INDEX IF NOT EXISTS idx_soap_test_results_date ON soap_test_results (test_date DESC);
`

// sqliteDirectorySchema stands in for the hosted auth and consent tables so
// the reminder pipeline can run against a local database.
const sqliteDirectorySchema = `
CREATE TABLE IF NOT EXISTS auth_users (
    id TEXT PRIMARY KEY,
    email TEXT,
    created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_consent (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL UNIQUE,
    terms_accepted BOOLEAN NOT NULL DEFAULT 0,
    privacy_accepted BOOLEAN NOT NULL DEFAULT 0,
    data_processing_accepted BOOLEAN NOT NULL DEFAULT 0,
    marketing_accepted BOOLEAN NOT NULL DEFAULT 0,
    consent_date TEXT DEFAULT CURRENT_TIMESTAMP
);
`

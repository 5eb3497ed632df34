package migrations

// creditProcedures defines the only code paths that mutate credit balances.
// Each locks the pool row, checks and updates the balance, and appends a
// credit_transactions row in the caller's transaction.
const creditProcedures = `
CREATE OR REPLACE FUNCTION deduct_credit(p_user_id UUID, p_amount BIGINT, p_reason TEXT DEFAULT 'generation')
RETURNS BOOLEAN
LANGUAGE plpgsql AS $$
DECLARE
	v_balance BIGINT;
BEGIN
	IF p_amount <= 0 THEN
		RAISE EXCEPTION 'amount must be positive' USING ERRCODE = 'check_violation';
	END IF;

	SELECT credits INTO v_balance FROM profiles WHERE id = p_user_id FOR UPDATE;
	IF NOT FOUND THEN
		RAISE EXCEPTION 'profile % not found', p_user_id USING ERRCODE = 'no_data_found';
	END IF;

	IF v_balance < p_amount THEN
		RETURN FALSE;
	END IF;

	UPDATE profiles SET credits = credits - p_amount, updated_at = NOW() WHERE id = p_user_id;

	INSERT INTO credit_transactions (user_id, actor_id, amount, balance_after, reason)
	VALUES (p_user_id, p_user_id, -p_amount, v_balance - p_amount, p_reason);

	RETURN TRUE;
END;
$$;

CREATE OR REPLACE FUNCTION add_credit(p_user_id UUID, p_amount BIGINT, p_reason TEXT)
RETURNS BIGINT
LANGUAGE plpgsql AS $$
DECLARE
	v_balance BIGINT;
BEGIN
	IF p_amount <= 0 THEN
		RAISE EXCEPTION 'amount must be positive' USING ERRCODE = 'check_violation';
	END IF;

	UPDATE profiles SET credits = credits + p_amount, updated_at = NOW()
	WHERE id = p_user_id
	RETURNING credits INTO v_balance;
	IF NOT FOUND THEN
		RAISE EXCEPTION 'profile % not found', p_user_id USING ERRCODE = 'no_data_found';
	END IF;

	INSERT INTO credit_transactions (user_id, amount, balance_after, reason)
	VALUES (p_user_id, p_amount, v_balance, p_reason);

	RETURN v_balance;
END;
$$;

CREATE OR REPLACE FUNCTION deduct_workspace_credit(p_workspace_id UUID, p_user_id UUID, p_amount BIGINT, p_reason TEXT DEFAULT 'generation')
RETURNS BOOLEAN
LANGUAGE plpgsql AS $$
DECLARE
	v_balance BIGINT;
BEGIN
	IF p_amount <= 0 THEN
		RAISE EXCEPTION 'amount must be positive' USING ERRCODE = 'check_violation';
	END IF;

	PERFORM 1 FROM workspace_members WHERE workspace_id = p_workspace_id AND user_id = p_user_id;
	IF NOT FOUND THEN
		RAISE EXCEPTION 'user % is not a member of workspace %', p_user_id, p_workspace_id
			USING ERRCODE = 'insufficient_privilege';
	END IF;

	SELECT credits INTO v_balance FROM workspaces WHERE id = p_workspace_id FOR UPDATE;
	IF NOT FOUND THEN
		RAISE EXCEPTION 'workspace % not found', p_workspace_id USING ERRCODE = 'no_data_found';
	END IF;

	IF v_balance < p_amount THEN
		RETURN FALSE;
	END IF;

	UPDATE workspaces SET credits = credits - p_amount, updated_at = NOW() WHERE id = p_workspace_id;

	INSERT INTO credit_transactions (workspace_id, actor_id, amount, balance_after, reason)
	VALUES (p_workspace_id, p_user_id, -p_amount, v_balance - p_amount, p_reason);

	RETURN TRUE;
END;
$$;

CREATE OR REPLACE FUNCTION add_workspace_credit(p_workspace_id UUID, p_amount BIGINT, p_reason TEXT, p_actor_id UUID DEFAULT NULL)
RETURNS BIGINT
LANGUAGE plpgsql AS $$
DECLARE
	v_balance BIGINT;
BEGIN
	IF p_amount <= 0 THEN
		RAISE EXCEPTION 'amount must be positive' USING ERRCODE = 'check_violation';
	END IF;

	UPDATE workspaces SET credits = credits + p_amount, updated_at = NOW()
	WHERE id = p_workspace_id
	RETURNING credits INTO v_balance;
	IF NOT FOUND THEN
		RAISE EXCEPTION 'workspace % not found', p_workspace_id USING ERRCODE = 'no_data_found';
	END IF;

	INSERT INTO credit_transactions (workspace_id, actor_id, amount, balance_after, reason)
	VALUES (p_workspace_id, p_actor_id, p_amount, v_balance, p_reason);

	RETURN v_balance;
END;
$$;
`

package flatzinc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const namedArrayModel = "array [1..6] of var int: mark:: output_array([1..6]) = " +
	"[0,X_INTRODUCED_17_,X_INTRODUCED_18_,X_INTRODUCED_19_,X_INTRODUCED_20_,X_INTRODUCED_21_]; \n" +
	" solve     ::      int_search(mark,first_fail,indomain,complete) minimize X_INTRODUCED_21_;"

func TestExtractVariables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "inline", text: "solve :: int_search([x, y],", want: []string{"x", "y"}},
		{name: "numeric token", text: "solve :: int_search([23, b, c],", want: []string{"23", "b", "c"}},
		{name: "empty list", text: "solve :: int_search([],", want: []string{}},
		{
			name: "loose spacing",
			text: "solve     ::      int_search([var1, var2, var3, var4],",
			want: []string{"var1", "var2", "var3", "var4"},
		},
		{
			name: "list across lines",
			text: "solve :: int_search([a,\n b,\n c], input_order, indomain_min, complete) satisfy;",
			want: []string{"a", "b", "c"},
		},
		{
			name: "named array",
			text: namedArrayModel,
			want: []string{
				"0", "X_INTRODUCED_17_", "X_INTRODUCED_18_", "X_INTRODUCED_19_", "X_INTRODUCED_20_", "X_INTRODUCED_21_",
			},
		},
		{name: "no annotation", text: "solve satisfy;", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, ExtractVariables(tt.text))
		})
	}
}

func TestSubstituteVariables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		ordering []string
		want     string
	}{
		{name: "two vars", text: "solve :: int_search([x, y],", ordering: []string{"a", "b"}, want: "solve :: int_search([a,b],"},
		{name: "single var", text: "solve :: int_search([var1],", ordering: []string{"x"}, want: "solve :: int_search([x],"},
		{name: "empty", text: "solve :: int_search([],", ordering: []string{}, want: "solve :: int_search([],"},
		{
			name:     "three vars",
			text:     "solve :: int_search([x, y, z],",
			ordering: []string{"a", "b", "c"},
			want:     "solve :: int_search([a,b,c],",
		},
		{
			name:     "named array identity",
			text:     "array [1..3] of var int: mark:: output_array([1..3]) = [1,2,3]; solve :: int_search(mark,",
			ordering: []string{"1", "2", "3"},
			want:     "array [1..3] of var int: mark:: output_array([1..3]) = [1,2,3]; solve :: int_search(mark,",
		},
		{
			name:     "named array reordered",
			text:     "array [1..3] of var int: mark:: output_array([1..3]) = [1,2,3]; solve :: int_search(mark,",
			ordering: []string{"3", "1", "2"},
			want:     "array [1..3] of var int: mark:: output_array([1..3]) = [3,1,2]; solve :: int_search(mark,",
		},
		{
			name:     "tail preserved",
			text:     "var int: q;\nsolve :: int_search([x, y], input_order, indomain_min, complete) satisfy;\n",
			ordering: []string{"y", "x"},
			want:     "var int: q;\nsolve :: int_search([y,x], input_order, indomain_min, complete) satisfy;\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := SubstituteVariables(tt.text, tt.ordering)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubstituteVariables_Errors(t *testing.T) {
	t.Parallel()

	_, err := SubstituteVariables("solve satisfy;", []string{"a"})
	require.ErrorIs(t, err, ErrNoSearchAnnotation)

	_, err = SubstituteVariables("solve :: int_search(missing, input_order, indomain, complete) satisfy;", []string{"a"})
	require.ErrorIs(t, err, ErrArrayNotDeclared)
}

func TestEnsureInputOrderAnnotation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "named array",
			text: "constraint int_lin_eq([1,-1,-1],[X_INTRODUCED_21_,X_INTRODUCED_20_,X_INTRODUCED_32_],0)" +
				":: defines_var(X_INTRODUCED_32_);solve :: int_search(mark,first_fail,indomain,complete) minimize X_INTRODUCED_21_;",
			want: "constraint int_lin_eq([1,-1,-1],[X_INTRODUCED_21_,X_INTRODUCED_20_,X_INTRODUCED_32_],0)" +
				":: defines_var(X_INTRODUCED_32_);solve :: int_search(mark,input_order,indomain,complete) minimize X_INTRODUCED_21_;",
		},
		{
			name: "inline list",
			text: "solve :: int_search([X_INTRODUCED_17_,X_INTRODUCED_18_],max_regret,indomain_min,complete) satisfy;",
			want: "solve :: int_search([X_INTRODUCED_17_,X_INTRODUCED_18_],input_order,indomain_min,complete) satisfy;",
		},
		{
			name: "already input order",
			text: "solve :: int_search([a,b], input_order, indomain_min, complete) satisfy;",
			want: "solve :: int_search([a,b], input_order, indomain_min, complete) satisfy;",
		},
		{name: "no annotation", text: "solve satisfy;", want: "solve satisfy;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, EnsureInputOrderAnnotation(tt.text))
		})
	}
}

func TestVerifySubstitution(t *testing.T) {
	t.Parallel()

	ordering := []string{"X_INTRODUCED_21_", "0", "X_INTRODUCED_17_", "X_INTRODUCED_18_", "X_INTRODUCED_19_", "X_INTRODUCED_20_"}

	mutated, err := SubstituteVariables(namedArrayModel, ordering)
	require.NoError(t, err)
	require.NoError(t, VerifySubstitution(namedArrayModel, mutated, ordering))

	err = VerifySubstitution(namedArrayModel, mutated, []string{"0"})
	require.ErrorIs(t, err, ErrOrderingMismatch)

	foreign := []string{"a", "b", "c", "d", "e", "f"}
	bad, err := SubstituteVariables(namedArrayModel, foreign)
	require.NoError(t, err)
	require.ErrorIs(t, VerifySubstitution(namedArrayModel, bad, foreign), ErrNotAPermutation)

	tampered := mutated + "\nconstraint int_le(a, b);"
	require.ErrorIs(t, VerifySubstitution(namedArrayModel, tampered, ordering), ErrUnexpectedChanges)
}
